package main

import (
	"context"
	"expvar"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skipline/internal/app"
	"skipline/internal/config"
	"skipline/internal/httpapi"
	"skipline/internal/notify"
	"skipline/internal/telemetry"
	"skipline/internal/ticketing"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(cfg.LogLevel, cfg.ServiceName)
	slog.SetDefault(logger)

	shutdownTracing := telemetry.Setup(cfg.ServiceName)

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	emitter, stopNotify, err := buildEmitter(cfg, backend, logger)
	if err != nil {
		logger.Error("notify setup", "error", err)
		os.Exit(1)
	}

	svc := ticketing.New(backend.Tickets, backend.Subs, emitter, ticketing.Options{
		ApproachWindow:    cfg.ApproachWindow,
		ApproachThreshold: cfg.ApproachThreshold,
		FrontendURL:       cfg.FrontendURL,
		Logger:            logger,
	})
	handler := httpapi.NewHandler(svc, httpapi.Options{VAPIDPublicKey: cfg.VAPIDPublicKey})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		QueuePerMinute: cfg.QueueRateLimitPerMinute,
		QueueBurst:     cfg.QueueRateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", httpapi.AuthMiddleware(backend.Sessions, handler.Routes()))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(mux)), cfg.ServiceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("queue-service listening", "addr", server.Addr, "store", cfg.StoreDriver, "notify", cfg.NotifyMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stopSignals()
		}
	}()

	// In asynq mode the notification worker's scheduler owns the sweep.
	if cfg.NotifyMode != "asynq" {
		go sweepMissed(ctx, svc, cfg, logger)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	stopNotify()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", "error", err)
	}
}

func buildEmitter(cfg config.Config, backend *app.Backend, logger *slog.Logger) (notify.Emitter, func(), error) {
	switch cfg.NotifyMode {
	case "off":
		return notify.Discard, func() {}, nil
	case "asynq":
		client := asynq.NewClient(app.AsynqRedis(cfg))
		d := notify.NewDispatcher([]notify.Channel{notify.NewTaskEnqueuer(client, cfg.NotifyQueue)}, notify.Options{
			Workers:     cfg.NotifyWorkers,
			Buffer:      cfg.NotifyBuffer,
			SendTimeout: cfg.NotifySendTimeout,
			Logger:      logger,
		})
		d.Start()
		return d, func() {
			d.Close()
			if err := client.Close(); err != nil {
				logger.Warn("asynq client close", "error", err)
			}
		}, nil
	default:
		d, stop, err := app.DeliveryDispatcher(cfg, backend, logger)
		if err != nil {
			return nil, nil, err
		}
		return d, stop, nil
	}
}

func sweepMissed(ctx context.Context, svc *ticketing.Service, cfg config.Config, logger *slog.Logger) {
	if cfg.NoShowGrace <= 0 || cfg.NoShowInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.NoShowInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		count, err := svc.SweepMissed(runCtx, cfg.NoShowGrace, cfg.NoShowBatchSize)
		cancel()
		if err != nil {
			logger.Error("auto miss sweep", "error", err)
			continue
		}
		if count > 0 {
			logger.Info("auto miss sweep", "count", count)
		}
	}
}
