// Command server runs the example plant-monitor application: the vigil
// engine embedded behind HTTP control endpoints, with optional Postgres
// persistence, Kafka forwarding, and Redis caching switched on by
// environment variables.
//
// Endpoints on :8080:
//   - GET  /api/equipment: registered equipment and sensors
//   - POST /api/monitor/start: start the monitoring session (token guarded)
//   - POST /api/monitor/stop: stop the session (token guarded)
//   - GET  /api/monitor/status: session and component stats
//
// The dashboard (live feed, alert acknowledgment, /metrics) serves on
// :9090.
//
// Environment:
//
//	VIGIL_OPERATOR_TOKEN   control endpoint token (empty disables the check)
//	VIGIL_POSTGRES_DSN     enable Postgres alert + reading persistence
//	VIGIL_KAFKA_BROKERS    comma-separated brokers; enables Kafka forwarding
//	VIGIL_REDIS_ADDR       enable the Redis latest-reading/alert cache
//	VIGIL_SAMPLE_INTERVAL_MS, VIGIL_COOLDOWN_S, VIGIL_ANOMALY_PROB tuning
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/lmittmann/tint"

	"github.com/chosenoffset/vigil/pkg/vigil"
	"github.com/chosenoffset/vigil/pkg/vigil/dashboard"
	"github.com/chosenoffset/vigil/pkg/vigil/relay"
	"github.com/chosenoffset/vigil/pkg/vigil/store"
	"github.com/chosenoffset/vigil/vigil-example/internal/plant"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	cfg := vigil.DefaultConfig()
	cfg.SamplingInterval = time.Duration(getEnvAsInt("VIGIL_SAMPLE_INTERVAL_MS", 2000)) * time.Millisecond
	cfg.CooldownDuration = time.Duration(getEnvAsInt("VIGIL_COOLDOWN_S", 30)) * time.Second
	cfg.AnomalyProbability = getEnvAsFloat("VIGIL_ANOMALY_PROB", 0.03)

	engine := vigil.NewEngine()
	engine.SetLogger(logger)

	// Alert persistence: Postgres when a DSN is configured, in-memory
	// otherwise so acknowledgment still works in development.
	var alertStore vigil.AlertStore = store.NewMemoryAlertStore()
	var readingWriter *store.ReadingWriter
	if dsn := getEnv("VIGIL_POSTGRES_DSN", ""); dsn != "" {
		db, err := store.NewPostgresDB(dsn)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		alertStore = store.NewPostgresAlertStore(db)
		readingWriter = store.NewReadingWriter(store.NewPostgresReadingStore(db), 2048, 100, 2*time.Second, logger)
		engine.SetReadingSink(readingWriter)
		logger.Info("postgres persistence enabled")
	}
	engine.SetAlertStore(alertStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if brokers := getEnv("VIGIL_KAFKA_BROKERS", ""); brokers != "" {
		forwarder := relay.NewKafkaForwarder(strings.Split(brokers, ","),
			getEnv("VIGIL_KAFKA_READINGS_TOPIC", "vigil.readings"),
			getEnv("VIGIL_KAFKA_ALERTS_TOPIC", "vigil.alerts"), logger)
		defer forwarder.Close()
		sub := engine.Subscribe()
		defer sub.Close()
		go forwarder.Run(ctx, sub)
		logger.Info("kafka forwarding enabled", "brokers", brokers)
	}

	if addr := getEnv("VIGIL_REDIS_ADDR", ""); addr != "" {
		cache, err := relay.NewRedisCache(addr, getEnv("VIGIL_REDIS_PASSWORD", ""),
			getEnvAsInt("VIGIL_REDIS_DB", 0), time.Hour, logger)
		if err != nil {
			logger.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		sub := engine.Subscribe()
		defer sub.Close()
		go cache.Run(ctx, sub)
		logger.Info("redis cache enabled", "addr", addr)
	}

	p := plant.New(engine, alertStore, cfg, getEnv("VIGIL_OPERATOR_TOKEN", ""), logger)
	router := mux.NewRouter()
	p.Routes(router)

	server := &http.Server{
		Addr:         ":" + getEnv("VIGIL_HTTP_PORT", "8080"),
		Handler:      handlers.CombinedLoggingHandler(os.Stderr, router),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	dash := dashboard.NewServer(":"+getEnv("VIGIL_DASHBOARD_PORT", "9090"), engine, alertStore, logger)
	go func() {
		if err := dash.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("dashboard stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("plant server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	engine.Stop()
	if readingWriter != nil {
		readingWriter.Close()
	}
	dash.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var value float64
	if _, err := fmt.Sscanf(valueStr, "%f", &value); err != nil {
		return defaultValue
	}
	return value
}
