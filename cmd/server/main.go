// Command server wires the correlation and fingerprinting services behind
// one HTTP listener. Business logic lives in the internal services; main
// only selects a storage backend and manages lifecycle.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	corrhandler "github.com/ProdByBuddha/readmyfineprint/internal/correlation/handler"
	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/hasher"
	corrmetrics "github.com/ProdByBuddha/readmyfineprint/internal/correlation/metrics"
	corrservice "github.com/ProdByBuddha/readmyfineprint/internal/correlation/service"
	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/store"
	fphandler "github.com/ProdByBuddha/readmyfineprint/internal/fingerprint/handler"
	fpmetrics "github.com/ProdByBuddha/readmyfineprint/internal/fingerprint/metrics"
	fpservice "github.com/ProdByBuddha/readmyfineprint/internal/fingerprint/service"
	"github.com/ProdByBuddha/readmyfineprint/internal/platform/config"
	"github.com/ProdByBuddha/readmyfineprint/internal/platform/httpserver"
	"github.com/ProdByBuddha/readmyfineprint/internal/platform/logger"
	"github.com/ProdByBuddha/readmyfineprint/internal/platform/postgres"
	redisplatform "github.com/ProdByBuddha/readmyfineprint/internal/platform/redis"
	httptransport "github.com/ProdByBuddha/readmyfineprint/internal/transport/http"
	audit "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit"
	auditpublisher "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit/publisher"
	auditmemory "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit/store/memory"
	auditpostgres "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit/store/postgres"
)

// devPepper keeps the memory backend usable without secrets. Never valid for
// postgres or redis backends; config enforces that.
const devPepper = "local-dev-pepper-not-a-secret"

const shutdownTimeout = 10 * time.Second

func main() {
	log := logger.New()
	slog.SetDefault(log)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pepper := cfg.Pepper
	if pepper == "" {
		log.Warn("PII_HASH_PEPPER not set; using development pepper")
		pepper = devPepper
	}
	piiHasher, err := hasher.New(hasher.Config{Pepper: pepper})
	if err != nil {
		log.Error("hasher construction failed", "error", err)
		os.Exit(1)
	}

	var (
		corrStore  store.Store
		auditStore audit.Store
		health     func() error
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		corrStore = store.NewPostgres(db)
		auditStore = auditpostgres.New(db)
		health = func() error { return postgres.Health(context.Background(), db) }
	case config.BackendRedis:
		client, err := redisplatform.New(cfg.Redis)
		if err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		corrStore = store.NewRedis(client.Client)
		auditStore = auditmemory.NewInMemoryStore()
		log.Warn("redis backend pairs with an in-memory audit store; audit events do not survive restarts")
		health = func() error { return client.Health(context.Background()) }
	case config.BackendMemory:
		corrStore = store.NewMemory()
		auditStore = auditmemory.NewInMemoryStore()
	}

	publisher := auditpublisher.NewPublisher(auditStore,
		auditpublisher.WithLogger(log),
		auditpublisher.WithAsyncBuffer(256),
	)
	defer publisher.Close()

	correlationMetrics := corrmetrics.New()
	correlationService, err := corrservice.New(corrStore, piiHasher,
		corrservice.WithLogger(log),
		corrservice.WithMetrics(correlationMetrics),
		corrservice.WithAuditPublisher(publisher),
		corrservice.WithRetention(cfg.Retention),
	)
	if err != nil {
		log.Error("correlation service construction failed", "error", err)
		os.Exit(1)
	}
	fingerprintService := fpservice.New(
		fpservice.WithLogger(log),
		fpservice.WithMetrics(fpmetrics.New()),
		fpservice.WithAuditPublisher(publisher),
	)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger: log,
		Handlers: []httptransport.Registrar{
			corrhandler.New(correlationService, publisher, log),
			fphandler.New(fingerprintService, piiHasher, log),
		},
		HealthFunc: health,
	})

	go store.StartMaintenance(ctx, corrStore, cfg.SweepInterval, log, correlationMetrics.ExpiredRecordsPurged, publisher)

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("server starting",
			"addr", cfg.Addr,
			"backend", string(cfg.StoreBackend),
			"retention", cfg.Retention.String(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
