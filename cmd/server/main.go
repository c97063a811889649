package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fiskal/internal/fiscal/alerts"
	"fiskal/internal/fiscal/certstore"
	"fiskal/internal/fiscal/handler"
	"fiskal/internal/fiscal/metrics"
	"fiskal/internal/fiscal/ports"
	"fiskal/internal/fiscal/qr"
	"fiskal/internal/fiscal/request"
	"fiskal/internal/fiscal/service"
	credentialstore "fiskal/internal/fiscal/store/credential"
	devicestore "fiskal/internal/fiscal/store/device"
	receiptstore "fiskal/internal/fiscal/store/receipt"
	retrystore "fiskal/internal/fiscal/store/retryqueue"
	"fiskal/internal/fiscal/submit"
	"fiskal/internal/platform/config"
	"fiskal/internal/platform/httpserver"
	"fiskal/internal/platform/logger"
	platformredis "fiskal/internal/platform/redis"
	"fiskal/pkg/platform/middleware/requestid"
	"fiskal/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal/fiscal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		receipts    ports.ReceiptStore
		retries     ports.RetryQueueStore
		devices     ports.DeviceStore
		credRecords certstore.RecordStore
		db          *sql.DB
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Error("ping database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		receipts = receiptstore.NewPostgres(db)
		retries = retrystore.NewPostgres(db)
		devices = devicestore.NewPostgres(db)
		credRecords = credentialstore.NewPostgres(db)
		log.Info("using postgres stores")
	} else {
		receipts = receiptstore.New()
		retries = retrystore.New()
		devices = devicestore.New()
		credRecords = credentialstore.New()
		log.Warn("no database configured, using in-memory stores")
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	alertPub, err := alerts.New(cfg.KafkaBrokers, cfg.AlertTopic, alerts.WithLogger(log))
	if err != nil {
		log.Error("init alert publisher", "error", err)
		os.Exit(1)
	}
	defer alertPub.Close()

	met := metrics.New()

	wrapper, err := certstore.NewKeyWrapper(cfg.CredentialKey)
	if err != nil {
		log.Error("init credential key wrapper", "error", err)
		os.Exit(1)
	}
	creds, err := certstore.NewManager(credRecords, certstore.New(), wrapper, certstore.WithLogger(log))
	if err != nil {
		log.Error("init credential manager", "error", err)
		os.Exit(1)
	}

	builder := request.NewBuilder()
	sender := submit.NewHTTPSender(cfg.Authority.EndpointURL, cfg.Authority.RequestTimeout)

	clientOpts := []submit.Option{
		submit.WithLogger(log),
		submit.WithMetrics(met),
		submit.WithAlerts(alertPub),
	}
	if redisClient != nil {
		// Lock TTL bounds how long a crashed holder blocks a receipt.
		clientOpts = append(clientOpts, submit.WithLocker(
			submit.NewRedisLocker(redisClient, 2*cfg.Authority.RequestTimeout)))
	}
	submitter, err := submit.New(sender, receipts, retries, cfg.Retry, clientOpts...)
	if err != nil {
		log.Error("init submission client", "error", err)
		os.Exit(1)
	}

	reconciler, err := submit.NewReconciler(submitter, receipts, retries, devices, creds, builder, cfg.Retry,
		submit.WithReconcilerLogger(log),
		submit.WithReconcilerMetrics(met),
		submit.WithReconcilerAlerts(alertPub),
	)
	if err != nil {
		log.Error("init retry reconciler", "error", err)
		os.Exit(1)
	}

	svc, err := service.New(receipts, retries, devices, creds, builder, submitter, qr.New(cfg.Authority.VerifyBaseURL),
		service.WithLogger(log),
		service.WithMetrics(met),
	)
	if err != nil {
		log.Error("init issuance service", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(requestid.Middleware)
	router.Use(requesttime.Middleware)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", healthz(db, redisClient))
	handler.New(svc, log, cfg.JWTSigningKey).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("retry reconciler stopped", "error", err)
		}
	}()

	go func() {
		log.Info("starting fiskal server", "addr", cfg.Addr, "authority", cfg.Authority.EndpointURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// healthz reports process liveness plus the state of backing services.
func healthz(db *sql.DB, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
