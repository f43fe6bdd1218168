package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joho/godotenv"

	"github.com/storage-tray/diskmirror/internal/daemon"
	"github.com/storage-tray/diskmirror/internal/device"
	"github.com/storage-tray/diskmirror/internal/jobs"
	"github.com/storage-tray/diskmirror/internal/scheduler"
	"github.com/storage-tray/diskmirror/internal/source/sysprobe"
	"github.com/storage-tray/diskmirror/internal/source/udisks"
	"github.com/storage-tray/diskmirror/logger"
	"github.com/storage-tray/diskmirror/pkg/config"
)

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	cfg, warnings, err := config.Load()
	if err != nil {
		return err
	}

	ctx = logger.AddLoggerToContext(ctx, cfg.LogLevel)
	log := logger.FromContext(ctx)
	for _, warn := range warnings {
		log.Warn().Msg(string(warn))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	mux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
	mux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	mux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	mux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return metricsSrv.Shutdown(context.Background())
	})

	var src device.Source
	var pump *udisks.Source
	switch cfg.Source {
	case config.SourceSysprobe:
		log.Info().Msg("Using read-only mount table source")
		src = sysprobe.New()
	default:
		udisksSrc, err := udisks.Connect()
		if err != nil {
			logger.ErrorLoggerFromContext(ctx).Error().Err(err).Msg("Failed to connect to device service")
			return fmt.Errorf("connecting to device service: %w", err)
		}
		defer udisksSrc.Close()
		src = udisksSrc
		pump = udisksSrc
	}

	d, err := daemon.New(ctx, src)
	if err != nil {
		logger.ErrorLoggerFromContext(ctx).Error().Err(err).Msg("Initial device sync failed")
		return err
	}
	log.Info().Int("devices", len(d.List())).Msg("Initial device sync complete")

	if pump != nil {
		g.Go(func() error {
			err := pump.Run(ctx, d)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	monitor := jobs.NewMonitor(d.JobTracker(), cfg.StaleJobAge)
	jobWatch, err := scheduler.NewSchedulerWithInterval(cfg.JobWatchInterval, monitor, log)
	if err != nil {
		return err
	}
	g.Go(func() error {
		jobWatch.Run(ctx)
		return nil
	})

	return g.Wait()
}
