package app

import (
	"strings"
	"time"

	"taskbot/internal/config"
	"taskbot/internal/httpapi"
	"taskbot/internal/storage"
	"taskbot/internal/task"
	"taskbot/internal/task/engine"
	"taskbot/internal/task/lifecycle"
	"taskbot/internal/task/recurring"
	"taskbot/internal/task/scheduler"
	"taskbot/internal/task/trigger"
	telegram "taskbot/internal/transport/telegram/adapter"
	logx "taskbot/pkg/logx"
)

// The map* helpers run on validated configs, so parse failures cannot occur
// and fall back to defaults.

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:        cfg.Telegram.Token,
		APIURL:       cfg.Telegram.APIURL,
		MaxPerSecond: cfg.Telegram.MaxPerSecond,
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "sqlite3" {
		driver = "sqlite"
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, time.Second),
	}
}

func mapEngine(cfg *config.Config) engine.Config {
	te := cfg.TaskEngine
	return engine.Config{
		Enabled:        true,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: config.DurationOr(te.DefaultTimeout, 0),
		MaxQueueDelay:  config.DurationOr(te.MaxQueueDelay, 0),
		HistorySize:    te.HistorySize,
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled == nil || *cfg.Scheduler.Enabled}
}

func mapLifecycle(cfg *config.Config) lifecycle.Config {
	return lifecycle.Config{
		DeliveryTimeout: config.DurationOr(cfg.Scheduler.DeliveryTimeout, 30*time.Second),
		MissedFire:      lifecycle.MissedFire(cfg.Scheduler.MissedFire),
	}
}

func mapRecurring(cfg *config.Config) recurring.Config {
	out := recurring.Config{
		DeliveryTimeout: config.DurationOr(cfg.Scheduler.DeliveryTimeout, 30*time.Second),
	}
	for _, j := range cfg.Recurring.Jobs {
		iv, _ := scheduler.ParseInterval(j.Interval)
		out.Jobs = append(out.Jobs, recurring.JobConfig{
			Name:      strings.TrimSpace(j.Name),
			Type:      task.Type(j.Type),
			Interval:  iv.Every,
			Enabled:   j.IsEnabled(),
			Spread:    config.DurationOr(j.Spread, 0),
			UserIDs:   j.UserIDs,
			Messages:  j.Messages,
			ChannelID: j.ChannelID,
			ThreadID:  j.ThreadID,
			ImageURLs: j.ImageURLs,
			Caption:   j.Caption,
		})
	}
	return out
}

func mapTrigger(cfg *config.Config) trigger.Config {
	mt := cfg.ManualTrigger
	limit := func(l config.TriggerLimit) trigger.Limit {
		return trigger.Limit{Max: l.Max, Window: config.DurationOr(l.Window, time.Hour)}
	}
	return trigger.Config{
		Limits: map[trigger.Kind]trigger.Limit{
			trigger.KindImage: limit(mt.Image),
			trigger.KindDM:    limit(mt.DM),
		},
		DeliveryTimeout: config.DurationOr(mt.DeliveryTimeout, 30*time.Second),
	}
}

func mapServer(cfg *config.Config) httpapi.ServerConfig {
	h := cfg.HTTP
	return httpapi.ServerConfig{
		Addr:            h.Addr,
		ReadTimeout:     config.DurationOr(h.ReadTimeout, 0),
		WriteTimeout:    config.DurationOr(h.WriteTimeout, 0),
		IdleTimeout:     config.DurationOr(h.IdleTimeout, 0),
		ShutdownTimeout: config.DurationOr(h.ShutdownTimeout, 0),
	}
}

func mapDebug(cfg *config.Config) httpapi.DebugConfig {
	p := cfg.HTTP.Pprof
	return httpapi.DebugConfig{Enabled: p.Enabled, Prefix: p.Prefix, Token: p.Token}
}

// StorageConfig resolves the store settings for offline tools such as the
// tasks CLI.
func StorageConfig(cfg *config.Config) storage.Config { return mapStorage(cfg) }
