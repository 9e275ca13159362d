package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/sophie-assistant/cmd/mainconfig"
	"github.com/wolfman30/sophie-assistant/internal/api/router"
	"github.com/wolfman30/sophie-assistant/internal/app/bootstrap"
	"github.com/wolfman30/sophie-assistant/internal/clinic"
	appconfig "github.com/wolfman30/sophie-assistant/internal/config"
	"github.com/wolfman30/sophie-assistant/internal/conversation"
	httpmiddleware "github.com/wolfman30/sophie-assistant/internal/http/middleware"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting sophie API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	runtime, err := bootstrap.BuildConversationRuntime(ctx, cfg, awsCfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("failed to build conversation runtime", "error", err)
		os.Exit(1)
	}
	defer runtime.Close()

	pipeline, err := bootstrap.BuildPipeline(cfg, awsCfg, runtime.Engine, logger)
	if err != nil {
		logger.Error("failed to build conversation pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	workerDone := make(chan struct{})
	if pipeline != nil && pipeline.InProcess {
		go func() {
			bootstrap.RunWorker(ctx, pipeline)
			close(workerDone)
		}()
	} else {
		close(workerDone)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newHandler(cfg, runtime, pipeline, promhttp.Handler(), logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Error("in-process worker shutdown timed out")
	}
	logger.Info("server stopped")
}

// newHandler assembles the HTTP surface from the wired runtime. Turns are
// answered synchronously when pipeline is nil.
func newHandler(cfg *appconfig.Config, runtime *bootstrap.Runtime, pipeline *bootstrap.Pipeline, metricsHandler http.Handler, logger *logging.Logger) http.Handler {
	var publisher *conversation.Publisher
	if pipeline != nil {
		publisher = pipeline.Publisher
	}

	routerCfg := &router.Config{
		Logger:              logger,
		ConversationHandler: conversation.NewHandler(runtime.Engine, runtime.Store, publisher, logger),
		AdminAuthSecret:     cfg.AdminJWTSecret,
		MetricsHandler:      metricsHandler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		Readiness:           readinessChecks(runtime),
	}
	if runtime.ClinicStore != nil {
		routerCfg.ClinicHandler = clinic.NewHandler(runtime.ClinicStore, logger)
	}
	if cfg.RateLimitRPS > 0 {
		routerCfg.RateLimiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	return router.New(routerCfg)
}

func readinessChecks(runtime *bootstrap.Runtime) map[string]router.ReadinessCheck {
	checks := make(map[string]router.ReadinessCheck)
	for name, check := range runtime.Readiness() {
		checks[name] = check
	}
	return checks
}
