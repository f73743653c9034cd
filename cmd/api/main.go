package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/adapters/http"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/bootstrap"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/config"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "api"})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.LoadCorpus(ctx); err != nil {
		logger.Error("corpus_load_failed", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := app.FollowCorpusEvents(ctx); err != nil {
			logger.Error("corpus_events_stopped", "error", err)
		}
	}()

	deps := httpadapter.Dependencies{
		Chat:    app.Chat,
		Corpus:  app.Corpus,
		Status:  app.Status,
		Metrics: app.HTTPMetrics,
	}
	if app.Conversations != nil {
		deps.Conversations = app.Conversations
	}
	router := httpadapter.NewRouter(cfg, deps).Handler()
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streams are bounded by the generation timeout, not the server.
		WriteTimeout: cfg.OllamaGenerateTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		logger.Error("api_listen_failed", "addr", server.Addr, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
