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

	"unical/internal/config"
	appLog "unical/internal/log"
	"unical/internal/profile"
	"unical/internal/refresh"
	"unical/internal/timetable"
	"unical/internal/upstream"
	"unical/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("unical starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"store_path", conf.StorePath,
		"cache_dir", conf.Upstream.CacheDir,
		"default_timetables", len(conf.Timetables),
		"once", flags.once,
	)

	if err := run(conf, flags.once); err != nil {
		appLog.Error("unical exiting with error", err)
		os.Exit(1)
	}
	appLog.Info("unical exiting")
}

func run(conf *config.Config, once bool) error {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := profile.OpenBadger(conf.StorePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLog.Error("failed to close profile store", err)
		}
	}()

	client := upstream.NewClient(upstream.Options{
		CacheDir:          conf.Upstream.CacheDir,
		Timeout:           conf.Upstream.Timeout(),
		UserAgent:         conf.Upstream.UserAgent,
		RequestsPerSecond: conf.Upstream.RequestsPerSecond,
		Burst:             conf.Upstream.Burst,
	})
	agg := timetable.NewAggregator(client,
		timetable.WithLocation(conf.Location()),
		timetable.WithFetchTimeout(conf.Upstream.Timeout()),
		timetable.WithConcurrency(conf.Upstream.MaxConcurrent),
		timetable.WithYearOverrides(conf.ProgramYears),
	)
	refresher := refresh.New(store, agg)

	if once {
		_, err := refresher.RunOnce(ctx)
		return err
	}

	if conf.RefreshCron != "" {
		sched, err := refresh.Start(ctx, conf.RefreshCron, refresher)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := web.NewServer(conf, store, agg, client)
	httpSrv := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("web server starting", "listen", "http://"+conf.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/unical/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh pass over all stored profiles and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging (overrides config log_level)")

	flag.Parse()

	return cfg
}
