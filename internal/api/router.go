package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the REST surface consumed by the member and admin
// dashboards.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(mux.MiddlewareFunc(h.withIdentity))

	// Member wallet
	apiV1.HandleFunc("/wallet/deposit", h.RequestDeposit).Methods("POST")
	apiV1.HandleFunc("/wallet/balance", h.GetBalance).Methods("GET")
	apiV1.HandleFunc("/wallet/summary", h.GetSummary).Methods("GET")
	apiV1.HandleFunc("/wallet/transactions", h.ListTransactions).Methods("GET")

	// Member submissions
	apiV1.HandleFunc("/member/posts", h.SubmitPost).Methods("POST")
	apiV1.HandleFunc("/member/posts", h.ListOwnPosts).Methods("GET")

	// Admin moderation and wallet decisions
	admin := apiV1.PathPrefix("/admin").Subrouter()
	admin.Use(mux.MiddlewareFunc(h.requireAdmin))
	admin.HandleFunc("/deposits", h.ListDeposits).Methods("GET")
	admin.HandleFunc("/deposits/{id}/approve", h.ApproveDeposit).Methods("PUT")
	admin.HandleFunc("/deposits/{id}/reject", h.RejectDeposit).Methods("PUT")
	admin.HandleFunc("/refunds", h.CreateRefund).Methods("POST")
	admin.HandleFunc("/member-posts", h.ListQueue).Methods("GET")
	admin.HandleFunc("/member-posts/{id}/approve", h.ApproveItem).Methods("PUT")
	admin.HandleFunc("/member-posts/{id}/reject", h.RejectItem).Methods("PUT")
	admin.HandleFunc("/member-posts/{id}/republish", h.RepublishItem).Methods("PUT")
	admin.HandleFunc("/member-posts/{id}", h.DeleteItem).Methods("DELETE")

	return r
}
