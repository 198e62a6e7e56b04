// Package app wires configuration, logging, storage, the task manager
// and the scheduler into one runnable daemon.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"autotask/internal/config"
	"autotask/internal/executor"
	"autotask/internal/executor/fake"
	"autotask/internal/manager"
	"autotask/internal/scheduler"
	"autotask/internal/storage"
	"autotask/internal/sysctx"
	"autotask/pkg/logx"
)

type App struct {
	cfgMgr *config.ConfigManager
	logSvc *logx.Service
	log    logx.Logger

	store storage.Store
	mgr   *manager.Manager
	sched *scheduler.Service

	mu          sync.Mutex
	started     bool
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// NewApp loads the config and builds every component. Nothing runs until
// Start.
func NewApp(cfgPath string) (*App, error) {
	cfgMgr := config.NewConfigManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgMgr.SetLogger(log.With(logx.String("comp", "config")))
	cfgMgr.SetValidator(func(ctx context.Context, c *config.Config) error {
		return c.Validate()
	})

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	mgr := manager.New(store, log.With(logx.String("comp", "manager")))
	exec := executor.New(fake.NewRunner(), log.With(logx.String("comp", "executor")))
	provider := sysctx.NewCached(
		sysctx.Static{},
		cfg.Context.CacheTTLOr(sysctx.DefaultTTL),
	)

	var sink scheduler.LogSink
	if store != nil {
		sink = store
	}
	sched := scheduler.New(scheduler.Config{
		PollInterval: cfg.Scheduler.PollIntervalOr(0),
		Workers:      cfg.Scheduler.Workers,
		RetryBackoff: cfg.Scheduler.RetryBackoffOr(0),
	}, mgr, exec, provider, sink, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgMgr: cfgMgr,
		logSvc: logSvc,
		log:    log,
		store:  store,
		mgr:    mgr,
		sched:  sched,
	}, nil
}

func (a *App) Manager() *manager.Manager     { return a.mgr }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Config() *config.ConfigManager { return a.cfgMgr }

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	if a.store != nil {
		if _, err := a.mgr.LoadFromStore(ctx); err != nil {
			return err
		}
	}

	cfg := a.cfgMgr.Get()
	if cfg != nil && cfg.Scheduler.Enabled {
		if err := a.sched.Start(); err != nil {
			return err
		}
	} else {
		a.log.Info("scheduler disabled by config")
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		_ = a.cfgMgr.Watch(watchCtx)
	}()
	go a.applyLoop(watchCtx)

	a.started = true
	a.log.Info("autotask started")
	return nil
}

// applyLoop re-applies hot-reloadable settings when a new config is
// published. Scheduler sizing changes need a restart and are only
// reported.
func (a *App) applyLoop(ctx context.Context) {
	sub := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(sub)
	prev := a.cfgMgr.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeConfigChange(prev, cfg)
			if len(changed) == 0 {
				prev = cfg
				continue
			}
			a.log.Info("config reloaded",
				append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)...)

			if a.logSvc != nil {
				a.logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
			}
			if cfg.Scheduler.Enabled {
				a.sched.Resume()
			} else {
				a.sched.Pause()
			}
			prev = cfg
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	if a.watchCancel != nil {
		a.watchCancel()
		<-a.watchDone
	}
	a.sched.Stop()
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	a.log.Info("autotask stopped")
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	_ = ctx
	return err
}
