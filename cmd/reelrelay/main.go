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
	"syscall"

	"github.com/gorilla/handlers"
	"golang.org/x/sync/errgroup"

	"reelrelay/config"
	mediahandlers "reelrelay/handlers"
	"reelrelay/internal/logging"
	"reelrelay/services/resolver"
	"reelrelay/services/streaming"
	"reelrelay/utils"
)

func main() {
	settingsPath := flag.String("config", os.Getenv("REELRELAY_CONFIG"), "path to the JSON settings file")
	dotenvPath := flag.String("env-file", ".env", "path to a .env file, empty to disable")
	writeConfig := flag.Bool("write-config", false, "write the effective settings to -config and exit")
	flag.Parse()

	manager := config.NewManager(*settingsPath).WithDotenv(*dotenvPath)
	if *writeConfig {
		if *settingsPath == "" {
			fmt.Fprintln(os.Stderr, "reelrelay: -write-config needs -config")
			os.Exit(2)
		}
		if _, err := writeSettings(manager); err != nil {
			fmt.Fprintln(os.Stderr, "reelrelay:", err)
			os.Exit(1)
		}
		fmt.Println("settings written to", *settingsPath)
		return
	}

	if err := run(manager); err != nil {
		fmt.Fprintln(os.Stderr, "reelrelay:", err)
		os.Exit(1)
	}
}

// writeSettings resolves defaults, file, .env and environment into one
// settings file.
func writeSettings(manager *config.Manager) (config.Settings, error) {
	cfg, err := manager.Load()
	if err != nil {
		return config.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if err := manager.Save(cfg); err != nil {
		return config.Settings{}, err
	}
	return cfg, nil
}

func run(manager *config.Manager) error {
	cfg, err := manager.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	out, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer out.Close()
	logger := out.Logger
	slog.SetDefault(logger)

	provider := resolver.NewHTTPClient(cfg.Resolver, logger)
	retrier := resolver.NewRetrier(provider, cfg.Resolver, resolver.WithLogger(logger))
	relay := streaming.NewRelay(cfg.Streaming, cfg.Media.FilenamePrefix, logger)

	router := utils.NewRouter(logger)
	mediahandlers.NewMediaHandler(retrier, relay, cfg.Media, logger).Register(router)

	// WriteTimeout stays zero: relays of large files outlive any fixed bound.
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handlers.CombinedLoggingHandler(out.Writer, router),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server.start",
			"addr", cfg.Server.ListenAddr,
			"provider", cfg.Resolver.ProviderURL,
			"max_attempts", cfg.Resolver.MaxAttempts,
			"retry_policy", cfg.Resolver.RetryPolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server.shutdown", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server.shutdown.forced", "error", err)
			return srv.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server.stopped")
	return nil
}
