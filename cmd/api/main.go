package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhadatviet/walletops/internal/api"
	"github.com/nhadatviet/walletops/internal/catalog"
	"github.com/nhadatviet/walletops/internal/config"
	"github.com/nhadatviet/walletops/internal/events"
	"github.com/nhadatviet/walletops/internal/ledger"
	"github.com/nhadatviet/walletops/internal/moderation"
	"github.com/nhadatviet/walletops/internal/projection"
	"github.com/nhadatviet/walletops/internal/store"
	"github.com/nhadatviet/walletops/internal/store/memory"
	"github.com/nhadatviet/walletops/internal/store/postgres"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	var (
		ledgerStore store.LedgerStore
		itemStore   store.ModerationStore
	)
	if cfg.DBSource != "" {
		pg, err := postgres.New(cfg.DBSource)
		if err != nil {
			logger.WithError(err).Fatal("Unable to connect to database")
		}
		defer pg.Close()
		ledgerStore, itemStore = pg, pg
	} else {
		// No database configured: run on the in-memory store. State is
		// lost on restart, intended for local development only.
		logger.Warn("DB_SOURCE not set, using in-memory store")
		mem := memory.New()
		ledgerStore, itemStore = mem, mem
	}

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
	}

	var listings catalog.Publisher = catalog.Noop{}
	if cfg.CatalogURL != "" {
		listings = catalog.NewClient(cfg.CatalogURL)
	}

	ledgerService := ledger.NewService(ledgerStore, publisher, logger, cfg.MinDepositAmount)
	queue := moderation.NewQueue(itemStore, ledgerService, listings, publisher, logger)
	views := projection.NewViews(ledgerStore, itemStore)
	handler := api.NewHandler(ledgerService, queue, views, logger, cfg.PostFeeAmount)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown was not clean")
	}
	logger.Info("Server stopped")
}
