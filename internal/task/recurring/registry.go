package recurring

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"taskbot/internal/eventbus"
	"taskbot/internal/storage"
	"taskbot/internal/task"
	"taskbot/internal/task/scheduler"
	logx "taskbot/pkg/logx"
)

const defaultDeliveryTimeout = 30 * time.Second

// Registry owns the recurring jobs. Each enabled job keeps exactly one armed
// timer under recurring:<name>; the firing wrapper re-arms it.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*job
	timeout time.Duration
	started bool

	store     storage.Store
	sched     *scheduler.Service
	deliverer task.Deliverer
	metrics   task.Metrics
	log       logx.Logger
	bus       eventbus.Bus

	rmu  sync.Mutex
	pick func(n int) int
}

type job struct {
	cfg     JobConfig
	enabled bool
	next    time.Time
	last    *time.Time
}

type Option func(*Registry)

func WithMetrics(m task.Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(r *Registry) { r.bus = b }
}

// WithPicker replaces the random index source. pick(n) must return [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(r *Registry) {
		if pick != nil {
			r.pick = pick
		}
	}
}

func New(cfg Config, store storage.Store, sched *scheduler.Service, d task.Deliverer, log logx.Logger, opts ...Option) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		jobs:      map[string]*job{},
		timeout:   cfg.DeliveryTimeout,
		store:     store,
		sched:     sched,
		deliverer: d,
		metrics:   task.NopMetrics{},
		log:       log.With(logx.String("comp", "recurring")),
		pick:      rand.IntN,
	}
	if r.timeout <= 0 {
		r.timeout = defaultDeliveryTimeout
	}
	jobs := cfg.Jobs
	if jobs == nil {
		jobs = DefaultJobs()
	}
	for _, jc := range jobs {
		jc.Name = strings.TrimSpace(jc.Name)
		if err := jc.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.jobs[jc.Name]; dup {
			return nil, fmt.Errorf("duplicate recurring job %q", jc.Name)
		}
		r.jobs[jc.Name] = &job{cfg: jc, enabled: jc.Enabled}
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Start arms every enabled job. The next fire is one interval after the last
// recorded run, or one interval from now when there is none. A next fire in
// the past fires immediately.
func (r *Registry) Start(ctx context.Context) error {
	now := r.sched.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	for _, name := range r.namesLocked() {
		j := r.jobs[name]
		if !j.enabled {
			r.log.Info("recurring job disabled", logx.String("job", name))
			continue
		}
		last, ok, err := r.store.GetLastRun(ctx, name)
		if err != nil {
			return fmt.Errorf("load last run of %s: %w", name, err)
		}
		var next time.Time
		if ok {
			l := last
			j.last = &l
			next = scheduler.NextAfter(last, j.cfg.Interval)
		} else {
			next = scheduler.NextAfter(now, j.cfg.Interval)
			next = scheduler.SpreadFirst(next, j.cfg.Spread)
		}
		if err := r.armLocked(j, next); err != nil {
			return err
		}
		r.log.Info("recurring job armed",
			logx.String("job", name),
			logx.Duration("interval", j.cfg.Interval),
			logx.Time("next_fire", next),
			logx.Bool("overdue", !next.After(now)),
		)
	}
	r.started = true
	return nil
}

// Cancel disables name and removes its timer. Cancelling a disabled job
// succeeds without doing anything.
func (r *Registry) Cancel(ctx context.Context, name string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[strings.TrimSpace(name)]
	if j == nil {
		return fmt.Errorf("%w: recurring job %q", task.ErrNotFound, name)
	}
	if !j.enabled {
		return nil
	}
	j.enabled = false
	j.next = time.Time{}
	if err := r.sched.Disarm(task.RecurringJobKey(j.cfg.Name)); err != nil {
		// already fired; the wrapper sees enabled=false and stops
		r.log.Debug("disarm recurring", logx.String("job", j.cfg.Name), logx.Err(err))
	}
	r.log.Info("recurring job cancelled", logx.String("job", j.cfg.Name))
	r.publish("recurring.cancelled", r.viewLocked(j))
	return nil
}

func (r *Registry) Get(name string) (task.RecurringJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[strings.TrimSpace(name)]
	if j == nil {
		return task.RecurringJob{}, fmt.Errorf("%w: recurring job %q", task.ErrNotFound, name)
	}
	r.healLocked(j)
	return r.viewLocked(j), nil
}

// List returns every configured job, enabled or not, sorted by name.
func (r *Registry) List() []task.RecurringJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]task.RecurringJob, 0, len(r.jobs))
	for _, name := range r.namesLocked() {
		j := r.jobs[name]
		r.healLocked(j)
		out = append(out, r.viewLocked(j))
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.jobs))
	for n := range r.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) viewLocked(j *job) task.RecurringJob {
	out := task.RecurringJob{
		Name:         j.cfg.Name,
		Type:         j.cfg.Type,
		Interval:     j.cfg.Interval,
		NextFireTime: j.next,
		Enabled:      j.enabled,
		Target:       j.cfg.targetString(),
		Action:       j.cfg.actionString(),
	}
	if j.last != nil {
		l := *j.last
		out.LastFiredAt = &l
	}
	return out
}

func (r *Registry) armLocked(j *job, at time.Time) error {
	name := j.cfg.Name
	if err := r.sched.Arm(task.RecurringJobKey(name), at, func(ctx context.Context, _ string) error {
		return r.run(ctx, name)
	}, scheduler.OnMissed(func(_ string, reason error) {
		r.missed(name, reason)
	})); err != nil {
		return fmt.Errorf("arm %s: %w", name, err)
	}
	j.next = at
	return nil
}

// missed re-arms a job whose firing never ran, one interval from now. A
// firing refused because the previous run is still going is left to that
// run, which re-arms on its own.
func (r *Registry) missed(name string, reason error) {
	now := r.sched.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[name]
	if j == nil || !j.enabled {
		return
	}
	key := task.RecurringJobKey(name)
	if _, armed := r.sched.Armed(key); armed || r.sched.InFlight(key) {
		return
	}
	next := now.Add(j.cfg.Interval)
	if err := r.armLocked(j, next); err != nil {
		r.log.Error("re-arm after missed firing failed", logx.String("job", name), logx.Err(err))
		return
	}
	r.log.Warn("recurring firing missed, re-armed", logx.String("job", name), logx.Err(reason), logx.Time("next_fire", next))
	r.publish("recurring.missed", r.viewLocked(j))
}

// healLocked arms an enabled job that has neither a timer nor a firing in
// flight. A next fire already in the past fires immediately.
func (r *Registry) healLocked(j *job) {
	if !r.started || !j.enabled {
		return
	}
	key := task.RecurringJobKey(j.cfg.Name)
	if _, armed := r.sched.Armed(key); armed || r.sched.InFlight(key) {
		return
	}
	next := j.next
	if now := r.sched.Now(); next.IsZero() || next.Before(now) {
		next = now
	}
	if err := r.armLocked(j, next); err != nil {
		r.log.Error("re-arm on read failed", logx.String("job", j.cfg.Name), logx.Err(err))
		return
	}
	r.log.Warn("recurring job had no timer, re-armed", logx.String("job", j.cfg.Name), logx.Time("next_fire", next))
}

func (r *Registry) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
