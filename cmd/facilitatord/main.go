package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	facilitator "github.com/vitwit/x402-facilitator"
	"github.com/vitwit/x402-facilitator/config"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/registry"
	"github.com/vitwit/x402-facilitator/server"
)

func main() {
	log := logger.NewZapLogger(os.Getenv(config.EnvLogLevel))

	cfg, err := config.FromEnv(registry.Default())
	if err != nil {
		log.Error("configuration failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	f, err := facilitator.New(cfg,
		facilitator.WithLogger(log),
		facilitator.WithMetrics(metrics.NewPrometheusRecorder()),
	)
	if err != nil {
		log.Error("startup failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer f.Close()

	srv := server.New(f, cfg.ListenAddr, log)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("server stopped", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}()

	<-done
	log.Info("shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", map[string]any{"error": err.Error()})
	}
}
