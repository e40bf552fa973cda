// Package config loads the taskbot configuration from JSON or YAML, applies
// defaults and command-line overrides, validates it and hot-reloads it.
//
// Durations are Go duration strings ("30s", "1h"). Recurring intervals also
// accept "1d", "7d", "HH:MM" and the daily/weekly/hourly aliases.
package config

type Config struct {
	Logging       LoggingConfig       `json:"logging"`
	Telegram      TelegramConfig      `json:"telegram"`
	HTTP          HTTPConfig          `json:"http"`
	Storage       StorageConfig       `json:"storage"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	TaskEngine    TaskEngineConfig    `json:"task_engine"`
	Recurring     RecurringConfig     `json:"recurring"`
	ManualTrigger ManualTriggerConfig `json:"manual_trigger"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards records at or above MinLevel to an ops chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// TelegramConfig configures delivery. With an empty token deliveries are
// logged instead of sent.
type TelegramConfig struct {
	Token        string  `json:"token"`
	APIURL       string  `json:"api_url,omitempty"`
	MaxPerSecond float64 `json:"max_per_second,omitempty"`
	ParseMode    string  `json:"parse_mode,omitempty"`
}

type HTTPConfig struct {
	Addr            string      `json:"addr"`
	ReadTimeout     string      `json:"read_timeout,omitempty"`
	WriteTimeout    string      `json:"write_timeout,omitempty"`
	IdleTimeout     string      `json:"idle_timeout,omitempty"`
	ShutdownTimeout string      `json:"shutdown_timeout,omitempty"`
	Pprof           PprofConfig `json:"pprof"`
}

// PprofConfig mounts profiling endpoints on the API listener. A non-loopback
// addr requires a token.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix,omitempty"`
	Token   string `json:"token,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"` // sqlite | file | memory
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// MissedFire is "fire" (deliver late) or "fail" for pending events whose
	// time passed while the process was down.
	MissedFire      string `json:"missed_fire,omitempty"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
}

type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// RecurringConfig lists the system-owned interval jobs. Omitting jobs keeps
// the built-in random_dm_task and image_post_task definitions.
type RecurringConfig struct {
	Jobs []RecurringJobConfig `json:"jobs,omitempty"`
}

type RecurringJobConfig struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // random_dm | image_post
	Interval string `json:"interval"`
	Enabled  *bool  `json:"enabled,omitempty"`
	Spread   string `json:"spread,omitempty"`

	UserIDs  []string `json:"user_ids,omitempty"`
	Messages []string `json:"messages,omitempty"`

	ChannelID string   `json:"channel_id,omitempty"`
	ThreadID  int      `json:"thread_id,omitempty"`
	ImageURLs []string `json:"image_urls,omitempty"`
	Caption   string   `json:"caption,omitempty"`
}

// IsEnabled defaults to true when omitted.
func (j RecurringJobConfig) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }

type ManualTriggerConfig struct {
	Image           TriggerLimit `json:"image"`
	DM              TriggerLimit `json:"dm"`
	DeliveryTimeout string       `json:"delivery_timeout,omitempty"`
}

// TriggerLimit allows Max calls per Window.
type TriggerLimit struct {
	Max    int    `json:"max"`
	Window string `json:"window"`
}
