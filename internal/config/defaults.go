package config

import "strings"

const (
	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultStoragePath = "./taskbot.db"
)

// Default is the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Logging: LoggingConfig{Console: true}}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(c.Storage.Path) == "" && c.Storage.Driver != "memory" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Scheduler.MissedFire == "" {
		c.Scheduler.MissedFire = "fire"
	}
	if c.Scheduler.DeliveryTimeout == "" {
		c.Scheduler.DeliveryTimeout = "30s"
	}
	if c.TaskEngine.Workers <= 0 {
		c.TaskEngine.Workers = 4
	}
	if c.TaskEngine.QueueSize <= 0 {
		c.TaskEngine.QueueSize = 256
	}
	if c.TaskEngine.HistorySize <= 0 {
		c.TaskEngine.HistorySize = 200
	}
	if len(c.Recurring.Jobs) == 0 {
		c.Recurring.Jobs = []RecurringJobConfig{
			{Name: "random_dm_task", Type: "random_dm", Interval: "daily"},
			{Name: "image_post_task", Type: "image_post", Interval: "weekly"},
		}
	}
	for _, l := range []*TriggerLimit{&c.ManualTrigger.Image, &c.ManualTrigger.DM} {
		if l.Max <= 0 {
			l.Max = 10
		}
		if strings.TrimSpace(l.Window) == "" {
			l.Window = "1h"
		}
	}
}

// Overrides are command-line or environment values that win over the file.
type Overrides struct {
	HTTPAddr      string
	LogLevel      string
	TelegramToken string
	StoragePath   string
}

func (o Overrides) Apply(c *Config) {
	if s := strings.TrimSpace(o.HTTPAddr); s != "" {
		c.HTTP.Addr = s
	}
	if s := strings.TrimSpace(o.LogLevel); s != "" {
		c.Logging.Level = s
	}
	if s := strings.TrimSpace(o.TelegramToken); s != "" {
		c.Telegram.Token = s
	}
	if s := strings.TrimSpace(o.StoragePath); s != "" {
		c.Storage.Path = s
	}
}
