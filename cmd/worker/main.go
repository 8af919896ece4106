package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"pdf-ocr-pipeline/internal/blob"
	"pdf-ocr-pipeline/internal/config"
	"pdf-ocr-pipeline/internal/logging"
	"pdf-ocr-pipeline/internal/ocr"
	"pdf-ocr-pipeline/internal/queue"
	"pdf-ocr-pipeline/internal/splitter"
	"pdf-ocr-pipeline/internal/store"
	"pdf-ocr-pipeline/internal/telemetry"
	"pdf-ocr-pipeline/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := logging.New(cfg.Env, "worker")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	q := queue.NewRedisQueue(cfg)
	defer func() { _ = q.Close() }()
	if err := q.Init(ctx); err != nil {
		logger.Fatal("init queue", zap.Error(err))
	}

	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		logger.Fatal("init blob store", zap.Error(err))
	}

	model, err := ocr.NewGeminiModel(ctx, cfg.GeminiAPIKey)
	if err != nil {
		logger.Fatal("init model client", zap.Error(err))
	}
	opts, err := ocr.OptionsFromConfig(cfg)
	if err != nil {
		logger.Fatal("ocr options", zap.Error(err))
	}
	processor := ocr.NewChunkedProcessor(model, splitter.SplitPDF, opts, logger)
	lifecycle := worker.NewLifecycle(st, blobs, processor, cfg.MaxRetries, logger)
	loop := worker.NewLoop(q, lifecycle, cfg, logger)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	defer func() { _ = metricsSrv.Close() }()

	logger.Info("worker starting",
		zap.String("queue", cfg.QueueName),
		zap.String("model", cfg.GeminiModelID),
		zap.Int("pages_per_split", cfg.PagesPerSplit),
		zap.Int("max_retries", cfg.MaxRetries),
	)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}
