package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gigflow/application"
	"gigflow/auth"
	"gigflow/config"
	"gigflow/db"
	"gigflow/notify"
	"gigflow/project"
	"gigflow/workorder"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPoolWithOptions(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.Pool.MaxConns,
	})
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	outbox := notify.NewWriter()

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	projectRepo := project.NewRepository(pool)
	projectSvc := project.NewService(pool, projectRepo, outbox)
	workOrderRepo := workorder.NewRepository(pool)
	workOrderSvc := workorder.NewService(
		pool,
		workOrderRepo,
		workorder.NewEscrowLedger(pool),
		projectRepo,
		outbox,
		logger.Named("workorder"),
	)
	applicationSvc := application.NewService(
		pool,
		application.NewRepository(pool),
		projectRepo,
		workOrderRepo,
		outbox,
	)

	if cfg.AMQPURL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			logger.Fatal("connect notification broker", zap.Error(err))
		}
		defer publisher.Close()

		dispatcher := notify.NewDispatcher(notify.NewStore(pool), publisher, logger.Named("notify")).
			WithInterval(cfg.Outbox.Interval).
			WithBatchSize(cfg.Outbox.BatchSize).
			WithMaxRetries(cfg.Outbox.MaxRetries)

		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			defer rdb.Close()
			dispatcher = dispatcher.WithDeduper(notify.NewDeduper(rdb, time.Hour, logger.Named("dedup")))
		}

		go dispatcher.Start(ctx)
	} else {
		logger.Warn("AMQP_URL not set, notifications stay queued in the outbox")
	}

	server := &Server{
		authService:        authSvc,
		projectService:     projectSvc,
		applicationService: applicationSvc,
		workOrderService:   workOrderSvc,
		logger:             logger.Named("http"),
	}

	mux := http.NewServeMux()
	mux.Handle("/", server.routes())
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("api listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server", zap.Error(err))
	}
}
