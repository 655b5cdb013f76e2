package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"livechart/chart"
	"livechart/config"
	"livechart/drivers"
	"livechart/events"
	"livechart/metrics"
	"livechart/web/handlers"
)

func main() {
	logger := slog.Make(sloghuman.Sink(os.Stderr))
	if err := run(logger); err != nil {
		logger.Fatal(context.Background(), "livechart exited", slog.Error(err))
	}
}

func run(logger slog.Logger) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.GetFlags()
	if err != nil {
		return err
	}
	if cfg.Verbose {
		logger = logger.Leveled(slog.LevelDebug)
	}
	file, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return err
	}
	location, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	hub := events.NewHub()
	clock := quartz.NewReal()

	c, err := chart.New(chart.Options{
		ReadingKind:   cfg.Chart.ReadingKind,
		MaxPoints:     cfg.Chart.MaxPoints,
		Palette:       file.BuildPalette(),
		InitialSeries: file.Seed(),
		Location:      location,
		Clock:         clock,
		Hub:           hub,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	filter := drivers.TopicFilter{
		Namespace:  cfg.Chart.Namespace,
		Experiment: cfg.Chart.Experiment,
		Reading:    cfg.Chart.ReadingKind,
	}

	// Create the correct driver
	var driver drivers.Driver
	switch cfg.Driver {
	case config.MQTT:
		driver = drivers.NewMQTT(cfg.MQTT, filter, c, m, logger)
	case config.Serial:
		driver = drivers.NewSerial(cfg.Serial, filter, c, m, logger)
	}

	// Start up the driver
	if err := driver.Init(ctx); err != nil {
		return err
	}
	logger.Info(ctx, "charting readings",
		slog.F("driver", cfg.Driver),
		slog.F("topic", filter.Pattern()),
		slog.F("max_points", c.MaxPoints()),
	)

	driverErr := make(chan error, 1)
	go func() {
		driverErr <- driver.Run(ctx)
	}()

	dashboard, err := handlers.NewDashboard(c, logger)
	if err != nil {
		stop()
		<-driverErr
		return err
	}
	server := handlers.NewServer(
		dashboard,
		handlers.NewAPI(c),
		handlers.NewFeed(hub, m, logger),
		registry,
		clock,
		logger,
	)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx, cfg.Addr)
	}()

	// Whichever side stops first takes the other down with it.
	select {
	case err = <-driverErr:
		if err != nil {
			logger.Error(ctx, "driver stopped", slog.Error(err))
		}
		stop()
		if serr := <-serverErr; serr != nil && err == nil {
			err = serr
		}
	case err = <-serverErr:
		stop()
		if derr := <-driverErr; derr != nil && err == nil {
			err = derr
		}
	}
	logger.Info(context.Background(), "shut down")
	return err
}
