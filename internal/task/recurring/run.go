package recurring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskbot/internal/task"
	logx "taskbot/pkg/logx"
)

// run is the firing wrapper of one recurring job. The job is re-armed one
// interval from now whatever the delivery outcome, unless it was cancelled
// meanwhile.
func (r *Registry) run(ctx context.Context, name string) error {
	r.mu.Lock()
	j := r.jobs[name]
	if j == nil || !j.enabled {
		r.mu.Unlock()
		return nil
	}
	cfg := j.cfg
	scheduled := j.next
	r.mu.Unlock()

	start := time.Now()
	req, err := r.build(cfg, nil)
	var out task.DeliveryOutcome
	if err == nil {
		out, err = task.Deliver(ctx, r.deliverer, r.timeout, req)
	}
	took := time.Since(start)

	now := r.sched.Now()
	executed := task.UTC(now)
	wctx := context.WithoutCancel(ctx)
	if perr := r.store.PutLastRun(wctx, name, executed); perr != nil {
		r.log.Error("persist last run failed", logx.String("job", name), logx.Err(perr))
	}

	status := task.StatusCompleted
	entry := task.AuditEntry{
		TaskType:   string(cfg.Type),
		ExecutedAt: executed,
		Target:     req.Target.String(),
		Metadata:   map[string]string{"job": name},
	}
	if !scheduled.IsZero() {
		s := scheduled
		entry.ScheduledTime = &s
	}
	if req.ImageURL != "" {
		entry.Metadata["image_url"] = req.ImageURL
	}
	if out.MessageID != "" {
		entry.Metadata["message_id"] = out.MessageID
	}
	if err != nil {
		status = task.StatusFailed
		entry.ErrorMessage = err.Error()
	}
	entry.Status = status
	if _, aerr := r.store.AppendAudit(wctx, entry); aerr != nil {
		r.log.Error("audit append failed", logx.String("job", name), logx.Err(aerr))
	}
	r.metrics.ObserveExecution(string(cfg.Type), status, took)

	r.mu.Lock()
	j.last = &executed
	if j.enabled {
		if aerr := r.armLocked(j, now.Add(cfg.Interval)); aerr != nil {
			r.log.Error("re-arm failed", logx.String("job", name), logx.Err(aerr))
		}
	}
	next := j.next
	r.mu.Unlock()

	if err != nil {
		r.log.Warn("recurring job failed", logx.String("job", name), logx.Err(err), logx.Time("next_fire", next))
		r.publish("recurring.failed", entry)
		return err
	}
	r.log.Info("recurring job done", logx.String("job", name), logx.String("target", entry.Target), logx.Duration("took", took), logx.Time("next_fire", next))
	r.publish("recurring.completed", entry)
	return nil
}

// Request builds the delivery the first job of typ would send. A non-nil
// target replaces the random user or the configured channel.
func (r *Registry) Request(typ task.Type, target *task.Target) (task.DeliveryRequest, error) {
	r.mu.Lock()
	var cfg *JobConfig
	for _, name := range r.namesLocked() {
		if j := r.jobs[name]; j.cfg.Type == typ {
			c := j.cfg
			cfg = &c
			break
		}
	}
	r.mu.Unlock()
	if cfg == nil {
		return task.DeliveryRequest{}, fmt.Errorf("%w: no %s job configured", task.ErrNotFound, typ)
	}
	return r.build(*cfg, target)
}

func (r *Registry) build(cfg JobConfig, target *task.Target) (task.DeliveryRequest, error) {
	switch cfg.Type {
	case task.TypeRandomDM:
		msgs := nonEmpty(cfg.Messages)
		if len(msgs) == 0 {
			return task.DeliveryRequest{}, fmt.Errorf("%w: %s has no messages", task.ErrInvalidPayload, cfg.Name)
		}
		var to task.Target
		if target != nil && strings.TrimSpace(target.ChannelID) != "" {
			to = *target
		} else {
			users := nonEmpty(cfg.UserIDs)
			if len(users) == 0 {
				return task.DeliveryRequest{}, fmt.Errorf("%w: %s has no users", task.ErrInvalidPayload, cfg.Name)
			}
			to = task.Target{ChannelID: users[r.randIndex(len(users))]}
		}
		return task.DeliveryRequest{Kind: task.DeliverText, Target: to, Text: msgs[r.randIndex(len(msgs))]}, nil

	case task.TypeImagePost:
		urls := nonEmpty(cfg.ImageURLs)
		if len(urls) == 0 {
			return task.DeliveryRequest{}, fmt.Errorf("%w: %s has no images", task.ErrInvalidPayload, cfg.Name)
		}
		to := task.Target{ChannelID: strings.TrimSpace(cfg.ChannelID), ThreadID: cfg.ThreadID}
		if target != nil && strings.TrimSpace(target.ChannelID) != "" {
			to = *target
		}
		if to.ChannelID == "" {
			return task.DeliveryRequest{}, fmt.Errorf("%w: %s has no channel", task.ErrInvalidPayload, cfg.Name)
		}
		return task.DeliveryRequest{Kind: task.DeliverImage, Target: to, ImageURL: urls[r.randIndex(len(urls))], Text: cfg.Caption}, nil
	}
	return task.DeliveryRequest{}, fmt.Errorf("%w: unsupported type %q", task.ErrInvalidPayload, cfg.Type)
}

func (r *Registry) randIndex(n int) int {
	if n <= 1 {
		return 0
	}
	r.rmu.Lock()
	defer r.rmu.Unlock()
	return r.pick(n)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
