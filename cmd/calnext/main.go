package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/merlokk/lambda.calendar.next.event/internal/config"
	"github.com/merlokk/lambda.calendar.next.event/internal/ics"
	appLog "github.com/merlokk/lambda.calendar.next.event/internal/log"
	"github.com/merlokk/lambda.calendar.next.event/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	debug      bool
}

func main() {
	appLog.Info("calnext starting", "version", "0.1.0")

	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides the config file if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"default_duration_minutes", conf.DefaultDurationMinutes,
		"cache_ttl_seconds", conf.CacheTTLSeconds,
		"refresh", conf.RefreshCron,
		"ics_count", len(conf.ICS),
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	fetcher := ics.NewFetcher(conf.CacheDir)

	// Configured sources are re-fetched on a cron schedule so interactive
	// requests hit a warm disk cache.
	scheduler := startRefreshLoop(ctx, conf, fetcher)
	if scheduler != nil {
		defer scheduler.Stop()
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, fetcher).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP shutdown failed", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}

	appLog.Info("calnext exiting")
}

// startRefreshLoop schedules periodic pre-warming of the fetch cache for
// the configured sources. Returns nil when there is nothing to warm.
func startRefreshLoop(ctx context.Context, conf *config.Config, fetcher *ics.Fetcher) *cron.Cron {
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, src := range conf.ICS {
		if src.URL == "" {
			continue
		}
		id := src.ID
		if id == "" {
			id = src.Name
		}
		sources = append(sources, ics.Source{ID: id, URL: src.URL})
	}
	if len(sources) == 0 {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(conf.RefreshCron, func() {
		_, errs := fetcher.FetchAll(ctx, sources)
		if len(errs) > 0 {
			appLog.Warn("cache refresh completed with errors", "error_count", len(errs))
		}
	})
	if err != nil {
		appLog.Error("invalid refresh cron expression; refresh disabled", err, "refresh", conf.RefreshCron)
		return nil
	}

	c.Start()
	appLog.Info("cache refresh scheduled", "refresh", conf.RefreshCron, "source_count", len(sources))
	return c
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calnext/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
