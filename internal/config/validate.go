package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"taskbot/internal/task/scheduler"
)

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when the file sink is enabled"))
	}
	if c.Logging.Telegram.Enabled && strings.TrimSpace(c.Logging.Telegram.ChatID) == "" {
		add(errors.New("logging.telegram.chat_id is required when the telegram sink is enabled"))
	}

	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		add(fmt.Errorf("http.addr: %w", err))
	}
	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
		{"http.shutdown_timeout", c.HTTP.ShutdownTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"scheduler.delivery_timeout", c.Scheduler.DeliveryTimeout},
		{"task_engine.default_timeout", c.TaskEngine.DefaultTimeout},
		{"task_engine.max_queue_delay", c.TaskEngine.MaxQueueDelay},
		{"manual_trigger.delivery_timeout", c.ManualTrigger.DeliveryTimeout},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite", "sqlite3", "file":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(fmt.Errorf("storage.path is required for driver %s", c.Storage.Driver))
		}
	case "memory":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	switch strings.ToLower(c.Scheduler.MissedFire) {
	case "fire", "fail":
	default:
		add(fmt.Errorf("scheduler.missed_fire must be fire or fail, got %q", c.Scheduler.MissedFire))
	}

	seen := map[string]bool{}
	for i, j := range c.Recurring.Jobs {
		path := fmt.Sprintf("recurring.jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		switch {
		case name == "":
			add(fmt.Errorf("%s.name is required", path))
		case seen[name]:
			add(fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = true
		switch j.Type {
		case "random_dm", "image_post":
		default:
			add(fmt.Errorf("%s.type must be random_dm or image_post, got %q", path, j.Type))
		}
		if _, err := scheduler.ParseInterval(j.Interval); err != nil {
			add(fmt.Errorf("%s.interval: %w", path, err))
		}
		_, err := ParseDurationField(path+".spread", j.Spread)
		add(err)
	}

	for _, l := range []struct {
		path string
		TriggerLimit
	}{{"manual_trigger.image", c.ManualTrigger.Image}, {"manual_trigger.dm", c.ManualTrigger.DM}} {
		if l.Max <= 0 {
			add(fmt.Errorf("%s.max must be positive", l.path))
		}
		if d, err := ParseDurationField(l.path+".window", l.Window); err != nil {
			add(err)
		} else if d <= 0 {
			add(fmt.Errorf("%s.window must be positive", l.path))
		}
	}
	return errors.Join(errs...)
}
