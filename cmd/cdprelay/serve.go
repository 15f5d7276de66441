package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/neboloop/cdprelay/internal/config"
	"github.com/neboloop/cdprelay/internal/relay"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	fileCfg := config.Config{}
	if cfgFile != "" {
		loaded, err := config.LoadFile(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		fileCfg = loaded
	} else {
		fileCfg = mustDefaults()
	}

	cfg := relay.DefaultConfig()
	cfg.Host = fileCfg.Host
	cfg.Port = fileCfg.Port
	cfg.BearerToken = fileCfg.BearerToken
	cfg.ExtensionOrigins = fileCfg.ExtensionOriginAllowList
	cfg.RequestTimeout = time.Duration(fileCfg.RequestTimeoutMs) * time.Millisecond
	cfg.WriteQueueCapacity = fileCfg.WriteQueueCapacity
	cfg.McpLogRate = fileCfg.McpLogRate
	cfg.LogDroppedResponses = fileCfg.LogDroppedResponses

	// Flags win over file, file wins over built-in defaults.
	if flagHost != "" {
		cfg.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagBearerToken != "" {
		cfg.BearerToken = flagBearerToken
	}
	if len(flagExtensionOrigin) > 0 {
		cfg.ExtensionOrigins = flagExtensionOrigin
	}
	if flagRequestTimeoutMs != 0 {
		cfg.RequestTimeout = time.Duration(flagRequestTimeoutMs) * time.Millisecond
	}
	if flagWriteQueueCap != 0 {
		cfg.WriteQueueCapacity = flagWriteQueueCap
	}
	if flagMcpLogRate != 0 {
		cfg.McpLogRate = flagMcpLogRate
	}
	if flagLogDropped {
		cfg.LogDroppedResponses = true
	}

	logLevel := fileCfg.LogLevel
	if flagLogLevel != "" {
		logLevel = flagLogLevel
	}
	logFormat := fileCfg.LogFormat
	if flagLogFormat != "" {
		logFormat = flagLogFormat
	}
	cfg.Logger = buildLogger(logLevel, logFormat)

	srv := relay.NewServer(cfg)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	if cfgFile != "" {
		watchConfig(cfgFile, srv, cfg.Logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func mustDefaults() config.Config {
	c, _ := config.LoadFromBytes(nil)
	return c
}

func buildLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// watchConfig reloads only the hot-reloadable fields (extension origin
// allow-list, bearer token) on file changes; port/host/write-queue-capacity
// edits require a restart and are ignored here.
func watchConfig(path string, srv *relay.Server, log *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("config watch disabled", "error", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		log.Warn("config watch disabled", "error", err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := config.LoadFile(path)
				if err != nil {
					log.Warn("config reload failed", "error", err)
					continue
				}
				r := reloaded.Reloadable()
				srv.ApplyReloadable(r.ExtensionOriginAllowList, r.BearerToken)
				log.Info("config reloaded", "extensionOrigins", len(r.ExtensionOriginAllowList))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watch error", "error", err)
			}
		}
	}()
}
