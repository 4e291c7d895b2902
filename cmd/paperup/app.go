package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/franksops/paperup/config"
	"github.com/franksops/paperup/engine"
	"github.com/franksops/paperup/gate"
	"github.com/franksops/paperup/presenter"
	"github.com/franksops/paperup/provider"
	"github.com/franksops/paperup/store"
)

const queueBacklog = 1024

// app is the wired upload pipeline shared by the commands.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	db        *store.BoltStore
	gate      gate.Gate
	device    *provider.DeviceClient
	local     *provider.LocalSource
	tasks     *engine.TaskStore
	executor  *engine.Executor
	queue     *engine.Queue
	presenter *presenter.Presenter
	detach    func()
}

// newDeviceClient builds the device client behind the configured gate.
func newDeviceClient(cfg config.Config) (*provider.DeviceClient, gate.Gate, error) {
	var g gate.Gate = &gate.Direct{}
	if cfg.Interface != "" {
		g = gate.NewNetGate(cfg.Interface)
	}
	device, err := provider.NewDeviceClient(cfg.DeviceURL, provider.WithDialer(g.DialContext))
	if err != nil {
		return nil, nil, err
	}
	return device, g, nil
}

// newApp opens the task database, restores the previous tasks and starts
// the upload workers. notifier may be nil for log output.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, notifier presenter.Notifier) (*app, error) {
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := store.NewBoltStore(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	if last, err := db.LastSession(); err != nil {
		logger.Warn("failed to read last session", "error", err)
	} else if last.Active {
		logger.Warn("previous run stopped during an upload", "task", last.TaskID, "since", last.UpdatedAt)
	}

	device, g, err := newDeviceClient(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	tasks := engine.NewTaskStore(engine.WithPersister(db), engine.WithLogger(logger))
	restored, err := db.ListTasks()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	tasks.Restore(restored)

	local := provider.NewLocalSource("")
	sources := &provider.SourceRouter{
		Local: local,
		S3: &provider.LazySource{New: func(ctx context.Context) (provider.Source, error) {
			return provider.NewS3Source(ctx)
		}},
	}

	executor := engine.NewExecutor(tasks, sources, device,
		engine.WithBinder(g),
		engine.WithProgressConfig(engine.ProgressConfig{Interval: cfg.ProgressInterval}),
		engine.WithExecutorLogger(logger),
	)

	p := presenter.New(presenter.Config{
		Wake:        wakeResource(cfg),
		WiFi:        wifiResource(cfg),
		WakeCeiling: cfg.WakeCeiling,
		Notifier:    notifier,
		Canceller:   tasks,
		Recorder:    db,
		Logger:      logger,
	})

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		gate:      g,
		device:    device,
		local:     local,
		tasks:     tasks,
		executor:  executor,
		presenter: p,
		detach:    p.Attach(tasks),
	}
	a.queue = engine.NewQueue(ctx, tasks, executor, cfg.Workers, queueBacklog, logger)

	if n, err := a.queue.DispatchQueued(ctx); err != nil {
		logger.Warn("failed to resume queued tasks", "error", err)
	} else if n > 0 {
		logger.Info("resumed queued tasks", "count", n)
	}
	return a, nil
}

func wakeResource(cfg config.Config) presenter.Resource {
	if len(cfg.WakeCommand) == 0 {
		return presenter.NopResource{}
	}
	return &presenter.ProcessResource{Args: cfg.WakeCommand}
}

func wifiResource(cfg config.Config) presenter.Resource {
	if len(cfg.WiFiAcquireCommand) == 0 && len(cfg.WiFiReleaseCommand) == 0 {
		return presenter.NopResource{}
	}
	return &presenter.CommandResource{
		AcquireCmd: cfg.WiFiAcquireCommand,
		ReleaseCmd: cfg.WiFiReleaseCommand,
	}
}

// close stops the workers, ends the foreground session and closes the
// database. With drain set, dispatched tasks are finished first.
func (a *app) close(drain bool) {
	if drain {
		a.queue.Drain()
	} else {
		a.queue.Stop()
	}
	a.detach()
	a.presenter.Close()
	if err := a.gate.UnbindTraffic(context.Background()); err != nil {
		a.logger.Warn("failed to unbind traffic", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close task database", "error", err)
	}
}
