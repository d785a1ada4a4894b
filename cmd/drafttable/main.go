package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"drafttable/internal/auth"
	"drafttable/internal/config"
	"drafttable/internal/game"
	"drafttable/internal/observability/logging"
	"drafttable/internal/observability/metrics"
	"drafttable/internal/store"
	"drafttable/internal/transport/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "drafttable",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("drafttable")

	logger.Info("starting service", "debug", cfg.Debug)

	st, err := store.New(cfg.DataDir, cfg.DataShards, cfg.ParityShards)
	if err != nil {
		logger.Error("store init", "error", err)
		os.Exit(1)
	}

	// A load failure is fatal: starting with an empty table when state
	// exists on disk would silently orphan every seated device.
	snap, err := st.Load()
	if err != nil {
		logger.Error("state load", "error", err)
		os.Exit(1)
	}
	if snap == nil {
		logger.Info("no prior state, starting empty")
	}

	hub := ws.NewHub(ws.Options{
		Auth:               auth.NewService(),
		Game:               game.NewService(),
		Store:              st,
		Debug:              cfg.Debug,
		MaxEventsPerSecond: cfg.MaxEventsPerSecond,
		MaxConnsPerAddr:    cfg.MaxConnsPerAddr,
	})
	hub.Restore(snap)
	go hub.Run()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           ws.NewRouter(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	hub.Shutdown()
}
