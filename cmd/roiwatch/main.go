package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"roiwatch/internal/camera"
	"roiwatch/internal/config"
	"roiwatch/internal/database"
	"roiwatch/internal/logging"
	"roiwatch/internal/pipeline"
	"roiwatch/internal/roi"
	"roiwatch/internal/services"
	"roiwatch/internal/ws"
)

func main() {
	// Flags override the ROIWATCH_* environment.
	var (
		httpAddrF = flag.String("http-addr", "", "HTTP listen address (overrides ROIWATCH_HTTP_ADDR)")
		grpcAddrF = flag.String("grpc-addr", "", "gRPC listen address (overrides ROIWATCH_GRPC_ADDR, \"off\" disables)")
		deviceF   = flag.String("device", "", "Camera device or URL (overrides ROIWATCH_CAMERA_DEVICE)")
		levelF    = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides ROIWATCH_LOG_LEVEL)")
		jsonF     = flag.Bool("json-logs", false, "Log JSON lines instead of console output")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	level := *levelF
	if level == "" {
		level = os.Getenv("ROIWATCH_LOG_LEVEL")
	}
	logger, err := logging.New("roiwatch", level, *jsonF)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	settings := config.SettingsFromEnv(logger)
	if *httpAddrF != "" {
		settings.HTTPAddr = *httpAddrF
	}
	if *grpcAddrF != "" {
		settings.GRPCAddr = *grpcAddrF
	}
	if *deviceF != "" {
		settings.CameraDevice = *deviceF
	}

	if err := run(settings, logger, *dbgF); err != nil {
		logger.Errorw("exiting with error", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(settings config.Settings, logger *zap.SugaredLogger, debug bool) (err error) {
	// Initialize database
	db, err := database.New(settings.DBPath, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()
	if err := db.Migrate(); err != nil {
		return err
	}

	store, err := newConfigStore(settings, db, logger)
	if err != nil {
		return err
	}

	registry := roi.NewRegistry(settings.MaxROIs)
	registry.SetBounds(settings.CameraWidth, settings.CameraHeight)

	var autosaver *roi.Autosaver
	if settings.AutosaveDelay > 0 {
		autosaver = roi.NewAutosaver(registry, settings.ROIFile, settings.AutosaveDelay, logger.Named("roi"))
	}

	capture := camera.NewCapture(camera.Config{
		Device: settings.CameraDevice,
		FPS:    settings.CameraFPS,
		Width:  settings.CameraWidth,
		Height: settings.CameraHeight,
	}, logger)

	// Detection events fan out to the WebSocket hub and the sqlite recorder.
	bus := pipeline.NewEventBus()
	hub := ws.NewHub(settings.ForwardFrames, logger)
	bus.Subscribe(hub)
	events, _ := bus.SubscribeChannel(256)
	recorder := database.NewRecorder(db, events, settings.EventRetention)

	pipe := pipeline.New(capture, store, registry, bus, pipeline.Options{
		FrameTimeout: settings.FrameTimeout,
		RetryDelay:   settings.RetryDelay,
		MorphKernel:  settings.MorphKernel,
		Logger:       logger.Named("pipeline"),
	})
	pipe.AddBroadcaster(hub)

	ctrl := services.NewController(services.Options{
		Store:     store,
		Registry:  registry,
		ROIFile:   settings.ROIFile,
		Autosaver: autosaver,
		Stats:     pipe,
		Camera:    capture,
		Events:    db,
		Persister: db,
		Logger:    logger,
	})
	if n, err := ctrl.RestoreROIs(); err != nil {
		logger.Warnw("ignoring saved ROIs", "path", settings.ROIFile, "error", err)
	} else if n > 0 {
		// Checked against the configured size; a camera that delivers another
		// size drops them on its first frame.
		logger.Infow("restored ROIs for the configured frame size",
			"path", settings.ROIFile,
			"count", n,
			"frame_size", fmt.Sprintf("%dx%d", settings.CameraWidth, settings.CameraHeight),
		)
	}
	health := services.NewHealth(db, pipe)

	if settings.AutoStartVideo {
		if err := ctrl.StartCamera(); err != nil {
			logger.Warnw("camera not started, start it through the API once available", "device", settings.CameraDevice, "error", err)
		}
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	background := map[string]func(context.Context) error{
		"pipeline": pipe.Run,
		"recorder": recorder.Run,
	}
	if settings.ConfigFile != "" {
		watcher, err := config.NewFileWatcher(settings.ConfigFile, store, logger.Named("config"))
		if err != nil {
			logger.Warnw("config file changes will not be picked up", "path", settings.ConfigFile, "error", err)
		} else {
			background["config-watcher"] = watcher.Run
		}
	}
	for name, fn := range background {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				logger.Errorw("background task stopped", "task", name, "error", err)
			}
		}()
	}

	httpSrv := newHTTPServer(ctrl, health, hub, logger, debug)
	handleHTTPServer(ctx, settings.HTTPAddr, httpSrv, &wg, errc, logger)
	if settings.GRPCAddr != "" && settings.GRPCAddr != "off" {
		handleGRPCServer(ctx, settings.GRPCAddr, ctrl, health, &wg, errc, logger)
	}

	// Wait for signal.
	logger.Infow("exiting", "reason", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()
	wg.Wait()

	hub.Close()
	bus.Close()
	err = multierr.Combine(
		capture.Stop(),
		ctrl.FlushAutosave(),
	)
	logger.Info("exited")
	return err
}

// newConfigStore seeds the detection config from the database, then from the
// optional config file. Invalid stored values are logged and skipped.
func newConfigStore(settings config.Settings, db *database.Database, logger *zap.SugaredLogger) (*config.Store, error) {
	store, err := config.NewStore(config.DefaultDetection())
	if err != nil {
		return nil, err
	}

	saved, ok, err := db.LoadDetectionConfig()
	switch {
	case err != nil:
		logger.Warnw("ignoring stored detection config", "error", err)
	case ok:
		if _, err := store.Set(saved); err != nil {
			logger.Warnw("ignoring stored detection config", "error", err)
		}
	}

	if settings.ConfigFile != "" {
		if cfg, err := store.ApplyFile(settings.ConfigFile); err != nil {
			logger.Warnw("ignoring config file", "path", settings.ConfigFile, "error", err)
		} else {
			logger.Infow("applied config file", "path", settings.ConfigFile, "threshold", cfg.Threshold, "min_area", cfg.MinArea)
		}
	}
	return store, nil
}
