package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iconidentify/vidgate/internal/api"
	"github.com/iconidentify/vidgate/internal/api/handler"
	"github.com/iconidentify/vidgate/internal/config"
	"github.com/iconidentify/vidgate/internal/credential"
	"github.com/iconidentify/vidgate/internal/extractor"
	"github.com/iconidentify/vidgate/internal/fallback"
	"github.com/iconidentify/vidgate/internal/profile"
	"github.com/iconidentify/vidgate/internal/store"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vidgate %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("starting vidgate",
		"version", Version,
		"build_time", BuildTime,
	)

	// Download store
	st := store.New(cfg.Store.Dir, logger)
	if err := st.EnsureDir(); err != nil {
		logger.Error("failed to create download directory", "error", err)
		os.Exit(1)
	}

	// Credential store (empty on bad or absent input; the service still
	// runs, just without credentialled profiles)
	creds, err := credential.Load(cfg.Credential.BlobBase64, cfg.Store.ScratchDir, logger)
	if err != nil {
		logger.Error("failed to initialise credential store", "error", err)
		os.Exit(1)
	}

	// Profile registry; an empty resolved order is fatal
	registry, err := profile.NewRegistry(profile.Config{
		Order:           cfg.Profiles.Order,
		Default:         cfg.Profiles.Default,
		AllowCredential: cfg.Profiles.AllowCredential,
	}, logger)
	if err != nil {
		logger.Error("failed to resolve profile order", "error", err)
		os.Exit(1)
	}

	// Extraction pipeline
	adapter := extractor.NewAdapter(
		extractor.Config{BinPath: cfg.Extractor.BinPath},
		extractor.NewExecRunner(),
		logger,
	)
	controller := fallback.New(registry, creds, adapter, fallback.Config{
		ProbeTimeout:    cfg.Extractor.ProbeTimeout,
		FetchTimeout:    cfg.Extractor.FetchTimeout,
		AllowCredential: cfg.Profiles.AllowCredential,
	}, logger)

	// Handlers and router
	mediaHandler := handler.NewMediaHandler(
		controller,
		st,
		cfg.Limits,
		cfg.Store.PostResponseDelay(),
		cfg.Server.RequestTimeout,
		cfg.Server.WorkerCount,
		logger,
	)
	healthHandler := handler.NewHealthHandler(st, Version)
	router := api.NewRouter(mediaHandler, healthHandler, cfg.Server.APIKey)

	// Background reaper
	reaper := store.NewReaper(store.ReaperConfig{
		Window: cfg.Store.ReaperWindow(),
		Tick:   cfg.Store.ReaperTick(),
	}, st, logger)
	reaper.Start()

	srv := &http.Server{
		Addr:         cfg.Server.Bind,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := reaper.Stop(5 * time.Second); err != nil {
		logger.Error("reaper shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
