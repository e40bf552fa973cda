// Package app wires storage, the task engine, the scheduler, the lifecycle
// controller, the recurring registry, the manual trigger gate and the admin
// API into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskbot/internal/config"
	"taskbot/internal/delivery"
	"taskbot/internal/eventbus"
	"taskbot/internal/httpapi"
	"taskbot/internal/observability/metrics"
	rtsup "taskbot/internal/runtime/supervisor"
	"taskbot/internal/storage"
	"taskbot/internal/task"
	"taskbot/internal/task/engine"
	"taskbot/internal/task/lifecycle"
	"taskbot/internal/task/recurring"
	"taskbot/internal/task/scheduler"
	"taskbot/internal/task/trigger"
	"taskbot/internal/task/view"
	telegram "taskbot/internal/transport/telegram/adapter"
	logx "taskbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	metrics *metrics.Metrics
	store   storage.Store
	tg      *telegram.Adapter

	engine *engine.Service
	sched  *scheduler.Service
	tasks  *lifecycle.Controller
	reg    *recurring.Registry
	gate   *trigger.Gate
	http   *httpapi.Server
}

// NewApp loads the config and builds every component without starting
// anything. An empty cfgPath runs on defaults.
func NewApp(cfgPath string, o config.Overrides) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath, o)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logs, root := logx.New(mapLogging(cfg), nil)
	log := root.With(logx.String("comp", "app"))

	a := &App{cfgm: cfgm, log: log, logs: logs, bus: eventbus.New(), metrics: metrics.New()}

	var d task.Deliverer
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		tg, err := telegram.New(mapTelegram(cfg), root)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.tg = tg
		logs.SetSender(tg)
		d = delivery.NewChat(tg, cfg.Telegram.ParseMode)
	} else {
		log.Warn("telegram.token is empty; deliveries are logged, not sent")
		d = delivery.NewLog(root)
	}

	sc := mapStorage(cfg)
	a.store, err = storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	if err := a.build(cfg, root, d); err != nil {
		_ = a.store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, root logx.Logger, d task.Deliverer) error {
	a.engine = engine.New(mapEngine(cfg), root.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(mapScheduler(cfg), a.engine, scheduler.RealClock(), root.With(logx.String("comp", "scheduler")), a.bus)

	reg, err := recurring.New(mapRecurring(cfg), a.store, a.sched, d, root,
		recurring.WithMetrics(a.metrics), recurring.WithBus(a.bus))
	if err != nil {
		return fmt.Errorf("recurring: %w", err)
	}
	a.reg = reg
	a.tasks = lifecycle.New(mapLifecycle(cfg), a.store, a.sched, d, root,
		lifecycle.WithRecurring(reg), lifecycle.WithMetrics(a.metrics), lifecycle.WithBus(a.bus))
	a.gate = trigger.New(mapTrigger(cfg), reg, d, a.store, root,
		trigger.WithMetrics(a.metrics), trigger.WithBus(a.bus))

	debug := mapDebug(cfg)
	if debug.Enabled && !debug.Allowed(cfg.HTTP.Addr) {
		a.log.Error("pprof disabled: non-loopback http.addr requires http.pprof.token", logx.String("addr", cfg.HTTP.Addr))
		debug.Enabled = false
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Tasks:     a.tasks,
		Unified:   view.NewBuilder(a.store, reg, a.tasks),
		Recurring: reg,
		Trigger:   a.gate,
		Audit:     a.store,
		Metrics:   a.metrics,
		Health:    a.sched.Snapshot,
		Debug:     debug,
		Log:       root,
	})
	a.http = httpapi.NewServer(mapServer(cfg), router, root)

	return errors.Join(
		a.metrics.GaugeFunc("scheduler_armed_jobs", "Job keys with a live timer.", func() float64 {
			return float64(a.sched.Len())
		}),
		a.metrics.GaugeFunc("task_queue_length", "Runs waiting for an engine worker.", func() float64 {
			return float64(a.engine.Snapshot().QueueLen)
		}),
		a.metrics.GaugeFunc("eventbus_dropped_events", "Events lost to slow bus subscribers.", func() float64 {
			return float64(a.bus.Dropped())
		}),
	)
}

// Addr is the bound API address once started.
func (a *App) Addr() string { return a.http.Addr() }

// Done is closed when the app context is cancelled by Stop or a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings components up in dependency order: engine, scheduler,
// persisted events, recurring jobs, then the API.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.engine.Start(run)
	a.sched.Start(run)

	n, err := a.tasks.Reload(ctx)
	if err != nil {
		return fmt.Errorf("reload events: %w", err)
	}
	a.log.Info("pending events restored", logx.Int("count", n))

	if err := a.reg.Start(ctx); err != nil {
		return fmt.Errorf("recurring: %w", err)
	}
	if err := a.http.Start(run); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("eventbus.log", a.logEvents)

	sdNotify(a.log, "READY=1", "STATUS=serving on "+a.http.Addr())
	a.log.Info("app started", logx.String("addr", a.http.Addr()), logx.Int("armed", a.sched.Len()))
	return nil
}

// Stop shuts down in reverse order. Each step is bounded so one stuck
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.store.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, "STOPPING=1", "STATUS=stopping: "+string(reason))

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step timed out", logx.String("step", name), logx.Duration("limit", limit))
		}
	}

	step("http", 10*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.sup.Cancel()
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if a.tg != nil {
		sent, failed := a.tg.Stats()
		a.log.Info("telegram totals", logx.Uint64("sent", sent), logx.Uint64("failed", failed))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// reloadLoop applies hot-reloadable sections and flags the rest.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			ch := config.Summarize(applied, next)
			applied = next
			if ch.Empty() {
				continue
			}
			a.logs.Apply(mapLogging(next))
			a.gate.Apply(mapTrigger(next))
			a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)...)
			if len(ch.Restart) > 0 {
				a.log.Warn("restart required for config changes", logx.String("sections", strings.Join(ch.Restart, ",")))
			}
		}
	}
}

// logEvents mirrors domain events into the log.
func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128, "event.", "recurring.", "trigger.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			fields := []logx.Field{logx.String("type", e.Type)}
			switch d := e.Data.(type) {
			case task.Event:
				fields = append(fields, logx.Int64("event_id", d.ID), logx.String("status", string(d.Status)))
			case task.AuditEntry:
				fields = append(fields, logx.String("task_type", d.TaskType), logx.String("status", string(d.Status)))
			}
			a.log.Debug("domain event", fields...)
		}
	}
}
