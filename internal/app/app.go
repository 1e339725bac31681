// Package app wires configuration, logging, storage, the chat transport and
// the scheduling engine into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/eventbus"
	"remindbot/internal/messenger"
	"remindbot/internal/observability/metrics"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	sched   *scheduler.Service
	disp    *messenger.Dispatcher
	recon   *messenger.Reconciler
	metrics *metrics.Collector
	msrv    *metrics.Server

	readyTimeout time.Duration
	workers      int
	updates      chan kit.Update

	// notify reports service state to systemd; a no-op outside systemd.
	notify func(state string)
}

// New loads cfgPath and builds the app on the Telegram transport.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), nil)

	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	// Chat log sink goes through the adapter, which needed a logger first.
	logSvc.SetSender(ad)

	a, err := assemble(cfgm, cfg, logSvc, log, ad)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// assemble builds everything behind the transport. Tests call it with a fake adapter.
func assemble(cfgm *config.Manager, cfg *config.Config, logSvc *logx.Service, log logx.Logger, ad kit.Adapter) (*App, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	readyTimeout, err := mapReadyTimeout(cfg)
	if err != nil {
		return nil, err
	}
	help, err := cfg.HelpText()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	sched := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")))
	inv := delivery.New(mapDeliveryConfig(cfg), ad, bus, log.With(logx.String("comp", "delivery")))

	disp := messenger.NewDispatcher(messenger.Config{
		Feedback: mapFeedback(cfg),
		HelpText: help,
		Location: sched.Location(),
	}, store, sched, inv, bus, log.With(logx.String("comp", "dispatcher")))
	recon := messenger.NewReconciler(store, ad, sched, inv, bus, log.With(logx.String("comp", "reconcile")))

	col := metrics.New(sched, log.With(logx.String("comp", "metrics")))
	msrv := metrics.NewServer(mapMetricsConfig(cfg), col, log.With(logx.String("comp", "metrics.http")))

	return &App{
		cfgm:         cfgm,
		log:          log.With(logx.String("comp", "app")),
		logs:         logSvc,
		bus:          bus,
		store:        store,
		adapter:      ad,
		sched:        sched,
		disp:         disp,
		recon:        recon,
		metrics:      col,
		msrv:         msrv,
		readyTimeout: readyTimeout,
		workers:      mapWorkers(cfg),
		updates:      make(chan kit.Update, 256),
		notify:       sdNotify,
	}, nil
}

func sdNotify(state string) { _, _ = daemon.SdNotify(false, state) }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings the engine up in order: transport, wait Ready, reconcile,
// scheduler, command workers. A reconciliation storage failure is fatal.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	// Subscribe before reconcile so its events are counted.
	events, unsub := a.bus.Subscribe(1024)
	a.sup.Go0("metrics.collect", func(c context.Context) {
		defer unsub()
		a.metrics.Consume(c, events)
	})

	a.sup.Go("transport", func(c context.Context) error {
		return a.adapter.Start(c, a.updates)
	})

	a.log.Info("waiting for transport", logx.Duration("timeout", a.readyTimeout))
	timer := time.NewTimer(a.readyTimeout)
	defer timer.Stop()
	select {
	case <-a.adapter.Ready():
	case <-timer.C:
		return errors.Newf("transport not ready after %s", a.readyTimeout)
	case <-c.Done():
		if err := a.sup.Err(); err != nil {
			return err
		}
		return c.Err()
	}

	rep, err := a.recon.Run(c)
	if err != nil {
		return err
	}
	a.log.Info("schedules restored",
		logx.Int("armed", rep.Armed),
		logx.Int("paused", rep.Paused),
		logx.Int("skipped", rep.Skipped),
		logx.Duration("took", rep.Took),
	)

	a.sched.Start(c)

	self := a.adapter.Self()
	for i := range a.workers {
		a.sup.Go0(fmt.Sprintf("commands.worker.%d", i), func(c context.Context) {
			a.worker(c, self)
		})
	}

	a.msrv.Start(c)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("bot", self.Username), logx.Int("workers", a.workers))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies the hot-reloadable sections: logging, help and feedback.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	if a.logs != nil {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}
	if help, err := newCfg.HelpText(); err != nil {
		a.log.Warn("help text not reloaded", logx.Err(err))
	} else {
		a.disp.SetHelp(help)
	}
	a.disp.SetFeedback(mapFeedback(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in reverse order, each step bounded so one
// component can't stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.notify(daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "metrics", time.Second, func(c context.Context) error { a.msrv.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
