package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowd/config"
	"escrowd/core"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/storage"
)

const rpcTokenEnv = "ESCROWD_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("escrowd", cfg.Environment, logging.Options{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})

	token := strings.TrimSpace(cfg.RPCToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(rpcTokenEnv))
	}
	if token == "" {
		logger.Warn("no RPC token configured, mutating methods will be rejected",
			"env", rpcTokenEnv)
	}

	alloc, err := cfg.Alloc()
	if err != nil {
		logger.Error("invalid genesis allocation", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db, alloc, logger)
	if err != nil {
		logger.Error("failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}

	rpcServer := rpc.NewServer(node, token, cfg.RateLimitPerSecond, cfg.RateLimitBurst, logger)

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Method(http.MethodPost, "/", rpcServer)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting JSON-RPC server", "addr", cfg.RPCAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
