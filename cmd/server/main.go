package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"battlegate/internal/history"
	"battlegate/internal/match"
	"battlegate/internal/network"
	"battlegate/internal/room"
	"battlegate/internal/sim"
	"battlegate/pkg/config"
	"battlegate/pkg/logger"
)

var (
	addr       = flag.String("addr", "", "http service address (overrides config)")
	configFile = flag.String("config", "config.yml", "path to config file")
	logLevel   = flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	showCaller = flag.Bool("show-caller", false, "show caller information in logs")
)

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "healthy"}`)
}

func homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"name": "Battle Mediation Server", "version": "0.1.0", "status": "running"}`)
}

func main() {
	flag.Parse()

	// Load configuration, falling back to defaults when the file is absent
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		cfg = config.Default()
	}
	cfg.ApplyEnvironmentOverrides()
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLoggers(logger.ParseLevel(cfg.Logging.Level), *showCaller || cfg.Logging.ShowCaller)
	serverLogger := logger.ServerLogger
	if err == nil {
		serverLogger.Info("Loaded configuration from %s", *configFile)
	} else {
		serverLogger.Info("No config file at %s, using defaults", *configFile)
	}

	serverAddr := cfg.GetAddr()
	if *addr != "" {
		serverAddr = *addr
	}

	serverLogger.Info("Starting Battle Mediation Server on %s", serverAddr)
	serverLogger.Info("Environment: %s", cfg.Server.Environment)

	adapter := sim.NewAdapter()
	serverLogger.Info("Simulator ready: %d species loaded", len(adapter.Dex().SpeciesIDs()))

	// Match history is best-effort: the server runs without it
	var store *history.Store
	var onMatchClose match.CloseHook
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			serverLogger.Warn("Match history disabled: %v", err)
		} else {
			defer store.Close()
			onMatchClose = store.Record
		}
	}

	registry := room.NewRegistry(cfg.Match.IdleTimeout)
	registry.StartSweeper(cfg.Match.SweepInterval)
	defer registry.StopSweeper()

	controller := network.NewController(cfg, adapter, registry, onMatchClose)
	defer controller.Shutdown()

	router := mux.NewRouter()
	router.HandleFunc("/", homeHandler)
	router.HandleFunc("/health", healthHandler)
	router.HandleFunc("/battle", controller.HandleWebSocket)
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Endpoint, promhttp.Handler())
	}
	if store != nil {
		router.HandleFunc("/history/recent", store.HandleRecent).Methods(http.MethodGet)
	}

	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
		// No global read/write timeouts: websocket connections are
		// long-lived and guarded by their own heartbeat deadlines.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		serverLogger.Info("Server listening on %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverLogger.Fatal("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	serverLogger.Info("Received shutdown signal: %v", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	serverLogger.Info("Shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		serverLogger.Warn("Server forced to shutdown: %v", err)
	}

	serverLogger.Info("Server gracefully stopped")
}
