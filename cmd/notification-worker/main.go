package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skipline/internal/app"
	"skipline/internal/config"
	"skipline/internal/notify"
	"skipline/internal/telemetry"
	"skipline/internal/ticketing"

	"github.com/hibiken/asynq"
)

const maintenanceQueue = "maintenance"

type sweepPayload struct {
	GraceSeconds int `json:"grace_seconds"`
	Limit        int `json:"limit"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(cfg.LogLevel, "notification-worker")
	slog.SetDefault(logger)

	shutdownTracing := telemetry.Setup("notification-worker")

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	dispatcher, stopDispatcher, err := app.DeliveryDispatcher(cfg, backend, logger)
	if err != nil {
		logger.Error("notify setup", "error", err)
		os.Exit(1)
	}
	svc := ticketing.New(backend.Tickets, backend.Subs, dispatcher, ticketing.Options{
		ApproachWindow:    cfg.ApproachWindow,
		ApproachThreshold: cfg.ApproachThreshold,
		FrontendURL:       cfg.FrontendURL,
		Logger:            logger,
	})

	redisOpt := app.AsynqRedis(cfg)
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			cfg.NotifyQueue:  6,
			maintenanceQueue: 1,
		},
	})

	mux := asynq.NewServeMux()
	mux.Handle(notify.TypeDeliver, notify.NewDeliverHandler(dispatcher))
	mux.HandleFunc(notify.TypeSweepMissed, func(ctx context.Context, t *asynq.Task) error {
		var payload sweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", notify.TypeSweepMissed, err, asynq.SkipRetry)
		}
		count, err := svc.SweepMissed(ctx, time.Duration(payload.GraceSeconds)*time.Second, payload.Limit)
		if err != nil {
			return err
		}
		if count > 0 {
			logger.Info("auto miss sweep", "count", count)
		}
		return nil
	})

	var scheduler *asynq.Scheduler
	if cfg.NoShowGrace > 0 {
		payload, err := json.Marshal(sweepPayload{
			GraceSeconds: int(cfg.NoShowGrace / time.Second),
			Limit:        cfg.NoShowBatchSize,
		})
		if err != nil {
			logger.Error("sweep payload", "error", err)
			os.Exit(1)
		}
		scheduler = asynq.NewScheduler(redisOpt, nil)
		if _, err := scheduler.Register(cfg.SweepCron, asynq.NewTask(notify.TypeSweepMissed, payload), asynq.Queue(maintenanceQueue)); err != nil {
			logger.Error("register sweep", "cron", cfg.SweepCron, "error", err)
			os.Exit(1)
		}
		if err := scheduler.Start(); err != nil {
			logger.Error("scheduler start", "error", err)
			os.Exit(1)
		}
	}

	if err := srv.Start(mux); err != nil {
		logger.Error("asynq server start", "error", err)
		os.Exit(1)
	}
	logger.Info("notification-worker started", "queue", cfg.NotifyQueue, "concurrency", cfg.WorkerConcurrency)

	<-ctx.Done()

	if scheduler != nil {
		scheduler.Shutdown()
	}
	srv.Shutdown()
	stopDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", "error", err)
	}
}
