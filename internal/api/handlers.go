package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/nhadatviet/walletops/internal/ledger"
	"github.com/nhadatviet/walletops/internal/models"
	"github.com/nhadatviet/walletops/internal/moderation"
	"github.com/nhadatviet/walletops/internal/projection"
	"github.com/nhadatviet/walletops/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletops_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "walletops_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	ledger  *ledger.Service
	queue   *moderation.Queue
	views   *projection.Views
	logger  *logrus.Logger
	postFee int64
}

func NewHandler(led *ledger.Service, queue *moderation.Queue, views *projection.Views, logger *logrus.Logger, postFee int64) *Handler {
	return &Handler{
		ledger:  led,
		queue:   queue,
		views:   views,
		logger:  logger,
		postFee: postFee,
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

// Member wallet endpoints

type depositRequest struct {
	Amount    int64  `json:"amount"`
	ProofRef  string `json:"proof_ref"`
	Reference string `json:"reference"`
}

func (h *Handler) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/wallet/deposit"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "POST", endpoint)
		return
	}

	entry, err := h.ledger.RequestDeposit(r.Context(), identityFrom(r).AccountID, req.Amount, req.ProofRef, req.Reference)
	if err != nil {
		h.memberError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]*models.LedgerEntry{"entry": entry}, "POST", endpoint)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/wallet/balance"
	acc, err := h.ledger.GetBalance(r.Context(), identityFrom(r).AccountID)
	if err != nil {
		h.memberError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, acc, "GET", endpoint)
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/wallet/summary"
	summary, err := h.views.AccountSummary(r.Context(), identityFrom(r).AccountID)
	if err != nil {
		h.memberError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, summary, "GET", endpoint)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/wallet/transactions"
	f := models.EntryFilter{
		AccountID: identityFrom(r).AccountID,
		Status:    models.EntryStatus(r.URL.Query().Get("status")),
		Kind:      models.EntryKind(r.URL.Query().Get("kind")),
		Page:      parsePage(r),
	}
	entries, total, err := h.views.Transactions(r.Context(), f)
	if err != nil {
		h.memberError(w, err, "GET", endpoint)
		return
	}
	h.respondList(w, entries, total, f.Page, "GET", endpoint)
}

// Member moderation endpoints

type submitRequest struct {
	ItemType models.ItemType `json:"item_type"`
	Payload  json.RawMessage `json:"payload"`
}

func (h *Handler) SubmitPost(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/member/posts"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "POST", endpoint)
		return
	}

	// Listings carry the posting fee; support tickets are free.
	var fee int64
	if req.ItemType.IsListing() {
		fee = h.postFee
	}

	item, err := h.queue.Submit(r.Context(), identityFrom(r).AccountID, req.ItemType, req.Payload, fee)
	if err != nil {
		h.memberError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]*models.ModerationItem{"item": item}, "POST", endpoint)
}

func (h *Handler) ListOwnPosts(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/member/posts"
	f := models.ItemFilter{
		SubmitterID: identityFrom(r).AccountID,
		Status:      models.ItemStatus(r.URL.Query().Get("status")),
		Type:        models.ItemType(r.URL.Query().Get("type")),
		Page:        parsePage(r),
	}
	items, total, err := h.views.Queue(r.Context(), f)
	if err != nil {
		h.memberError(w, err, "GET", endpoint)
		return
	}
	h.respondList(w, items, total, f.Page, "GET", endpoint)
}

// Admin deposit endpoints

func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/deposits"
	f := models.EntryFilter{
		AccountID: r.URL.Query().Get("account_id"),
		Status:    models.EntryStatus(r.URL.Query().Get("status")),
		Kind:      models.KindDeposit,
		Page:      parsePage(r),
	}
	entries, total, err := h.views.Transactions(r.Context(), f)
	if err != nil {
		h.adminError(w, err, nil, "GET", endpoint)
		return
	}
	h.respondList(w, entries, total, f.Page, "GET", endpoint)
}

type depositDecisionRequest struct {
	Reason         string `json:"reason"`
	OverrideAmount *int64 `json:"override_amount"`
}

func (h *Handler) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/deposits/{id}/approve"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("PUT", endpoint))
	defer timer.ObserveDuration()

	var req depositDecisionRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "PUT", endpoint)
		return
	}

	entry, err := h.ledger.ApproveDeposit(r.Context(), mux.Vars(r)["id"], identityFrom(r).AccountID, req.OverrideAmount)
	if err != nil {
		h.adminError(w, err, entry, "PUT", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]*models.LedgerEntry{"entry": entry}, "PUT", endpoint)
}

func (h *Handler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/deposits/{id}/reject"

	var req depositDecisionRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "PUT", endpoint)
		return
	}

	entry, err := h.ledger.RejectDeposit(r.Context(), mux.Vars(r)["id"], identityFrom(r).AccountID, req.Reason)
	if err != nil {
		h.adminError(w, err, entry, "PUT", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]*models.LedgerEntry{"entry": entry}, "PUT", endpoint)
}

type refundRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/refunds"

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "POST", endpoint)
		return
	}
	if req.AccountID == "" {
		h.respondError(w, http.StatusUnprocessableEntity, "account_id required", "POST", endpoint)
		return
	}

	entry, err := h.ledger.IssueRefund(r.Context(), req.AccountID, req.Amount, req.Reference, identityFrom(r).AccountID)
	if err != nil {
		h.adminError(w, err, entry, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]*models.LedgerEntry{"entry": entry}, "POST", endpoint)
}

// Admin moderation endpoints

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/member-posts"
	f := models.ItemFilter{
		SubmitterID: r.URL.Query().Get("submitter_id"),
		Status:      models.ItemStatus(r.URL.Query().Get("status")),
		Type:        models.ItemType(r.URL.Query().Get("type")),
		Page:        parsePage(r),
	}
	if v := r.URL.Query().Get("publication_failed"); v != "" {
		failed := v == "true"
		f.PublicationFailed = &failed
	}
	items, total, err := h.views.Queue(r.Context(), f)
	if err != nil {
		h.adminError(w, err, nil, "GET", endpoint)
		return
	}
	h.respondList(w, items, total, f.Page, "GET", endpoint)
}

type itemDecisionRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

func (h *Handler) ApproveItem(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/member-posts/{id}/approve"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("PUT", endpoint))
	defer timer.ObserveDuration()

	var req itemDecisionRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "PUT", endpoint)
		return
	}

	item, err := h.queue.Approve(r.Context(), mux.Vars(r)["id"], identityFrom(r).AccountID, req.Notes)
	if err != nil {
		// Insufficient funds carries the auto-rejected item so the admin
		// UI can show the final state instead of retrying blindly.
		h.adminError(w, err, item, "PUT", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]*models.ModerationItem{"item": item}, "PUT", endpoint)
}

func (h *Handler) RejectItem(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/member-posts/{id}/reject"

	var req itemDecisionRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "PUT", endpoint)
		return
	}

	item, err := h.queue.Reject(r.Context(), mux.Vars(r)["id"], identityFrom(r).AccountID, req.Reason)
	if err != nil {
		h.adminError(w, err, item, "PUT", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]*models.ModerationItem{"item": item}, "PUT", endpoint)
}

func (h *Handler) RepublishItem(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/member-posts/{id}/republish"

	item, err := h.queue.RetryPublication(r.Context(), mux.Vars(r)["id"], identityFrom(r).AccountID)
	if err != nil {
		h.adminError(w, err, item, "PUT", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]*models.ModerationItem{"item": item}, "PUT", endpoint)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/member-posts/{id}"

	if err := h.queue.Delete(r.Context(), mux.Vars(r)["id"], identityFrom(r).AccountID); err != nil {
		h.adminError(w, err, nil, "DELETE", endpoint)
		return
	}
	httpRequestsTotal.WithLabelValues("DELETE", endpoint, strconv.Itoa(http.StatusNoContent)).Inc()
	w.WriteHeader(http.StatusNoContent)
}

// Error taxonomy mapping

func statusAndCode(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingProof),
		errors.Is(err, moderation.ErrInvalidItemType),
		errors.Is(err, moderation.ErrEmptyPayload):
		return http.StatusUnprocessableEntity, "invalid_input"
	case errors.Is(err, ledger.ErrBelowMinimum):
		return http.StatusUnprocessableEntity, "below_minimum"
	case errors.Is(err, store.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrEntryNotFound),
		errors.Is(err, store.ErrItemNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrAlreadyDecided):
		return http.StatusConflict, "already_decided"
	case errors.Is(err, store.ErrEntryNotPending):
		return http.StatusConflict, "entry_not_pending"
	case errors.Is(err, store.ErrItemNotPending):
		return http.StatusConflict, "item_not_pending"
	case errors.Is(err, moderation.ErrNotRetryable):
		return http.StatusConflict, "not_retryable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// memberError keeps member-facing bodies generic; the status code is
// the only signal a member client gets. The taxonomy code and the
// underlying error only reach the logs.
func (h *Handler) memberError(w http.ResponseWriter, err error, method, endpoint string) {
	code, taxonomy := statusAndCode(err)
	if code == http.StatusInternalServerError {
		h.logger.WithFields(logrus.Fields{"endpoint": endpoint, "error": err}).Error("Request failed")
	} else {
		h.logger.WithFields(logrus.Fields{"endpoint": endpoint, "code": taxonomy, "error": err}).Info("Request rejected")
	}
	h.respondError(w, code, "request could not be processed, try again", method, endpoint)
}

type adminErrorResponse struct {
	Error  string      `json:"error"`
	Code   string      `json:"code"`
	Entity interface{} `json:"entity,omitempty"`
}

// adminError includes the taxonomy code and the current authoritative
// entity state so the dashboard can refresh instead of retrying blindly.
func (h *Handler) adminError(w http.ResponseWriter, err error, entity interface{}, method, endpoint string) {
	code, taxonomy := statusAndCode(err)
	if code == http.StatusInternalServerError {
		h.logger.WithFields(logrus.Fields{"endpoint": endpoint, "error": err}).Error("Request failed")
		h.respondJSON(w, code, adminErrorResponse{Error: "internal server error", Code: taxonomy}, method, endpoint)
		return
	}
	h.respondJSON(w, code, adminErrorResponse{Error: err.Error(), Code: taxonomy, Entity: entity}, method, endpoint)
}

// Helpers

type listResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
	Skip  int         `json:"skip"`
	Limit int         `json:"limit"`
}

func (h *Handler) respondList(w http.ResponseWriter, data interface{}, total int, page models.Page, method, endpoint string) {
	page = projection.ClampPage(page)
	h.respondJSON(w, http.StatusOK, listResponse{Data: data, Total: total, Skip: page.Skip, Limit: page.Limit}, method, endpoint)
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, message, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": message}, method, endpoint)
}

func parsePage(r *http.Request) models.Page {
	var p models.Page
	if v, err := strconv.Atoi(r.URL.Query().Get("skip")); err == nil {
		p.Skip = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		p.Limit = v
	}
	return p
}

// decodeOptionalBody tolerates an empty body: decision reason and notes
// fields are optional on every mutating endpoint.
func decodeOptionalBody(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}
