// Package app wires botpace together: config, logging, journal, transport,
// gate, and router, with lifecycle ordering and systemd integration.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"botpace/internal/config"
	"botpace/internal/eventbus"
	"botpace/internal/gate"
	"botpace/internal/journal"
	"botpace/internal/router"
	kit "botpace/internal/transport"
	"botpace/internal/transport/telegram"
	logx "botpace/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	adapter *telegram.Adapter
	bus     eventbus.Bus
	limiter *gate.Limiter
	exec    *gate.Executor
	journal *journal.Service
	router  *router.Router

	updates chan kit.Update
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	// The adapter is both a dependency of the log service (chat sink) and
	// a log consumer; it bootstraps on a plain console logger.
	bootLog := logx.NewConsole(cfg.Logging.Level)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeoutOrDefault(),
	}, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg), adapter)
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()
	limiter := gate.NewLimiter(gate.LimiterConfig{
		GlobalCapacity: cfg.Rate.Global.Capacity,
		GlobalRefill:   cfg.Rate.Global.RefillPerSec,
		ChatCapacity:   cfg.Rate.Chat.Capacity,
		ChatRefill:     cfg.Rate.Chat.RefillPerSec,
	})

	exec := gate.NewExecutor(gate.Policy{
		MaxRetries:      cfg.Retry.MaxRetries,
		BaseDelay:       cfg.RetryBaseDelay(),
		RetryableStatus: cfg.Retry.RetryableStatus,
	}, limiter, log.With(logx.String("comp", "gate")), bus)

	a := &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		adapter: adapter,
		bus:     bus,
		limiter: limiter,
		exec:    exec,
	}

	if cfg.Journal.Enabled {
		js, err := journal.NewService(journal.ServiceConfig{
			Store: journal.StoreConfig{
				Path:        cfg.Journal.Path,
				BusyTimeout: cfg.JournalBusyTimeout(),
			},
			PruneSchedule: cfg.Journal.Prune.Schedule,
			Keep:          cfg.JournalKeep(),
		}, bus, limiter, log.With(logx.String("comp", "journal")))
		if err != nil {
			return nil, err
		}
		a.journal = js
	}

	var store *journal.Store
	if a.journal != nil {
		store = a.journal.Store()
	}
	a.router = router.New(adapter, exec, limiter, store, bus, log.With(logx.String("comp", "router")))

	return a, nil
}

// Router exposes the dispatcher so main can register callback handlers.
func (a *App) Router() *router.Router { return a.router }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.journal != nil {
		if err := a.journal.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}

	a.updates = make(chan kit.Update, 256)
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.router.Run(runCtx, a.updates)
	}()

	// Hot-apply logging changes; rate/retry changes take a restart.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	sub := a.cfgMgr.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logSvc.Apply(logConfig(cfg))
				a.log.Info("logging config applied")
			}
		}
	}()

	a.notifySystemd(runCtx)
	a.log.Info("botpace started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cancel != nil {
		a.cancel()
	}
	err := a.adapter.Stop(ctx)
	a.wg.Wait()
	if a.journal != nil {
		a.journal.Stop()
	}
	a.log.Info("botpace stopped")
	_ = a.logSvc.Close()
	return err
}

// notifySystemd reports readiness and services the watchdog when one is
// configured; a no-op outside systemd.
func (a *App) notifySystemd(ctx context.Context) {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			ChatID:     cfg.Logging.Chat.ChatID,
			ThreadID:   cfg.Logging.Chat.ThreadID,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}
