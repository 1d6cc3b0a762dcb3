package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/reload"
	"github.com/parley-chat/parley/internal/security"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, config.ResolvePath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string
}

// Run loads configuration, starts the client, and blocks until a shutdown
// signal is received. SIGHUP and config file changes trigger a live reload.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := config.ResolvePath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := buildLogger(cfg)
	logger.Info("starting parley",
		"version", params.Version, "commit", params.Commit, "config", cfgPath)

	application, err := New(cfg, logger, params.Version)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		application.Stop()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watcher := reload.NewWatcher(reload.WatcherConfig{ConfigPath: cfgPath})
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	watcher.Start(watchCtx)
	defer watcher.Stop()

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				if err := application.Reload(watchCtx, cfgPath); err != nil {
					logger.Error("reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutdown signal received", "signal", sig.String())
			application.Stop()
			logger.Info("shutdown complete")
			return nil
		case path := <-watcher.Events():
			logger.Info("config file changed, reloading", "path", path)
			if err := application.Reload(watchCtx, path); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}

// buildLogger constructs the process logger: leveled text output on
// stderr, wrapped so the account token never reaches a log line.
func buildLogger(cfg *config.Config) *slog.Logger {
	redactor := security.NewRedactor()
	redactor.AddLiteral(cfg.Server.Token)

	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	})
	return slog.New(security.NewRedactingHandler(inner, redactor))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
