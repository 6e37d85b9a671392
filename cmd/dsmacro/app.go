package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rendis/dsmacro/internal/config"
	"github.com/rendis/dsmacro/internal/device"
	"github.com/rendis/dsmacro/internal/engine"
	"github.com/rendis/dsmacro/internal/library"
	"github.com/rendis/dsmacro/internal/logging"
	"github.com/rendis/dsmacro/internal/store"
	"github.com/rendis/dsmacro/internal/streaming"
	"github.com/rendis/dsmacro/internal/validation"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	ctl       *engine.Controller
	catalogue *library.Catalogue
	runner    *library.Runner
	validator *validation.JSONSchemaValidator
}

// newApp wires config → logger → driver → store → controller. The store
// is opened only when withStore is set.
func newApp(ctx context.Context, withStore bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if driverName != "" {
		cfg.Driver = driverName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.New(os.Stderr, level, cfg.LogFormat)
	slog.SetDefault(logger)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		hub:       streaming.NewMemoryHub(),
		catalogue: library.Builtin(),
	}

	a.validator, err = validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("init validator: %w", err)
	}

	ctlCfg := engine.Config{
		Driver:          a.driver(),
		Keys:            cfg.Keys,
		Buttons:         cfg.Buttons(),
		PixelsPerDegree: cfg.Mouse.PixelsPerDegree,
		StepsPerSecond:  cfg.Mouse.StepsPerSecond,
		PoolSize:        cfg.PoolSize,
		Hub:             a.hub,
		Logger:          logger,
	}

	if withStore {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		a.store, err = store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := a.store.Migrate(ctx); err != nil {
			a.store.Close()
			return nil, err
		}
		ctlCfg.Events = store.NewEventLog(a.store)
		ctlCfg.Runs = a.store
	}

	a.ctl, err = engine.NewController(ctx, ctlCfg)
	if err != nil {
		a.close()
		return nil, err
	}

	var records library.RecordSource
	if a.store != nil {
		records = a.store
	}
	a.runner = library.NewRunner(a.catalogue, a.ctl, records)

	logger.Debug("dsmacro wired",
		slog.String("config", cfg.Source),
		slog.String("driver", cfg.Driver),
		slog.String("db_path", cfg.DBPath),
	)
	return a, nil
}

// driver picks the input driver; auto uses xdotool when it is on PATH.
func (a *app) driver() device.Driver {
	switch a.cfg.Driver {
	case config.DriverSim:
		return device.NewSimulated()
	case config.DriverXdo:
		return a.xdotool()
	}
	if _, err := exec.LookPath(a.cfg.XdotoolPath); err != nil {
		a.logger.Warn("xdotool not found, input will be simulated", slog.String("path", a.cfg.XdotoolPath))
		return device.NewSimulated()
	}
	return a.xdotool()
}

func (a *app) xdotool() device.Driver {
	return device.NewXdotool(device.XdotoolConfig{Path: a.cfg.XdotoolPath, Logger: a.logger})
}

// close stops the controller and closes the store.
func (a *app) close() {
	if a.ctl != nil {
		a.ctl.Shutdown()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", slog.String("error", err.Error()))
		}
	}
}

// guard releases all held input when ctx is cancelled by a signal. The
// returned stop function must be called once the work is done.
func (a *app) guard(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.emergencyStop("interrupted")
		case <-done:
		}
	}()
	return func() { close(done) }
}

// emergencyStop cancels everything and reports what was released.
func (a *app) emergencyStop(reason string) engine.EmergencyReport {
	report := a.ctl.EmergencyStop(context.Background())
	a.logger.Warn("emergency stop",
		slog.String("reason", reason),
		slog.Int("cancelled", report.Cancelled),
		slog.Any("released_keys", report.ReleasedKeys),
		slog.Any("released_buttons", report.ReleasedButtons),
	)
	return report
}
