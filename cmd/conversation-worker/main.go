package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/sophie-assistant/cmd/mainconfig"
	"github.com/wolfman30/sophie-assistant/internal/app/bootstrap"
	appconfig "github.com/wolfman30/sophie-assistant/internal/config"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue || cfg.ConversationQueueURL == "" {
		logger.Error("conversation worker needs CONVERSATION_QUEUE_URL and USE_MEMORY_QUEUE=false")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	runtime, err := bootstrap.BuildConversationRuntime(ctx, cfg, awsConfig, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("failed to build conversation runtime", "error", err)
		os.Exit(1)
	}
	defer runtime.Close()

	pipeline, err := bootstrap.BuildPipeline(cfg, awsConfig, runtime.Engine, logger)
	if err != nil {
		logger.Error("failed to build conversation pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	done := make(chan struct{})
	go func() {
		bootstrap.RunWorker(ctx, pipeline)
		close(done)
	}()
	logger.Info("conversation worker started", "workers", cfg.WorkerCount, "queue_url", cfg.ConversationQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	select {
	case <-done:
		logger.Info("conversation worker stopped")
	case <-time.After(30 * time.Second):
		logger.Error("conversation worker shutdown timed out")
	}
}
