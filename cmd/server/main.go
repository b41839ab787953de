package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"peopleops/internal/applier"
	"peopleops/internal/audit/outbox"
	auditstore "peopleops/internal/audit/store"
	"peopleops/internal/changereq/handler"
	"peopleops/internal/changereq/models"
	"peopleops/internal/changereq/notify"
	"peopleops/internal/changereq/service"
	crstore "peopleops/internal/changereq/store"
	"peopleops/internal/jwtauth"
	"peopleops/internal/platform/config"
	"peopleops/internal/platform/httpserver"
	"peopleops/internal/platform/logger"
	"peopleops/internal/platform/metrics"
	"peopleops/internal/platform/middleware"
	"peopleops/internal/platform/redis"
	"peopleops/internal/storage"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	jwtService := jwtauth.NewService(cfg.JWTSigningKey, "peopleops", "peopleops-api")

	registry := applier.NewRegistry()

	var (
		crStore    service.Store
		auditStore interface {
			service.AuditStore
			handler.AuditQuerier
		}
		txr       service.TxRunner
		db        *sql.DB
		publisher *outbox.Publisher
	)

	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		if err := storage.EnsureSchema(ctx, db); err != nil {
			log.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		crStore = crstore.NewPostgres(db)
		auditStore = auditstore.NewPostgres(db)
		txr = service.NewSQLTxRunner(db)
	} else {
		// Dev mode: everything in memory, with a seeded applier collection.
		log.Warn("no database configured, using in-memory stores")
		crStore = crstore.NewInMemory()
		auditStore = auditstore.NewInMemory()
		txr = service.NewMemoryTxRunner()
		coll := applier.NewCollection()
		registry.Register(models.ModulePIM, "Employee", coll)
	}

	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var notifier service.Notifier
	if redisClient != nil {
		notifier = notify.NewRedisNotifier(redisClient, log)
	}

	svc := service.New(crStore, auditStore, registry, service.DefaultPolicy(), txr, notifier, m, log)
	h := handler.New(svc, auditStore, jwtService, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(middleware.ClientMetadata)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	h.Routes(router)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting peopleops server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if db != nil && len(cfg.KafkaBrokers) > 0 {
		publisher, err = outbox.New(ctx, cfg.KafkaBrokers, cfg.AuditTopic, config.OutboxPollInterval, db, log)
		if err != nil {
			log.Error("failed to start outbox publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		g.Go(func() error {
			log.Info("starting audit outbox publisher", "topic", cfg.AuditTopic)
			if err := publisher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
