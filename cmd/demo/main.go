// Command demo runs a five-sensor monitoring session with the web
// dashboard and an in-memory alert store. Useful for watching the engine
// detect injected anomalies without any external infrastructure.
//
// Usage:
//
//	go run ./cmd/demo
//
// The dashboard is available at http://localhost:9090 with the Prometheus
// scrape endpoint on /metrics.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/chosenoffset/vigil/pkg/vigil"
	"github.com/chosenoffset/vigil/pkg/vigil/dashboard"
	"github.com/chosenoffset/vigil/pkg/vigil/store"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	alerts := store.NewMemoryAlertStore()

	engine := vigil.NewEngine()
	engine.SetLogger(logger)
	engine.SetAlertStore(alerts)

	cfg := vigil.DefaultConfig()
	cfg.SamplingInterval = time.Second
	cfg.AnomalyProbability = 0.05
	cfg.CooldownDuration = 15 * time.Second

	session, err := engine.Start(cfg)
	if err != nil {
		logger.Error("failed to start monitoring", "error", err)
		os.Exit(1)
	}

	srv := dashboard.NewServer(":9090", engine, alerts, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("dashboard stopped", "error", err)
		}
	}()

	logger.Info("demo running", "dashboard", "http://localhost:9090")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	session.Stop()
	srv.Stop()
	logger.Info("alerts raised this run", "count", alerts.Len())
}
