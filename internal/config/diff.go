package config

import (
	"reflect"

	logx "taskbot/pkg/logx"
)

// Change summarizes a reload. Fields never carry secrets.
type Change struct {
	Sections []string
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
	Fields  []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// hotSections apply without restarting.
var hotSections = map[string]bool{
	"logging":        true,
	"manual_trigger": true,
}

// Summarize compares two configs section by section.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if !hotSections[section] {
			ch.Restart = append(ch.Restart, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		mark("telegram",
			logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		mark("http",
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage",
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		mark("scheduler", logx.String("scheduler.missed_fire", newCfg.Scheduler.MissedFire))
	}
	if oldCfg.TaskEngine != newCfg.TaskEngine {
		mark("task_engine",
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
		)
	}
	if !reflect.DeepEqual(oldCfg.Recurring, newCfg.Recurring) {
		mark("recurring", logx.Int("recurring.jobs", len(newCfg.Recurring.Jobs)))
	}
	if oldCfg.ManualTrigger != newCfg.ManualTrigger {
		mark("manual_trigger",
			logx.Int("manual_trigger.image_max", newCfg.ManualTrigger.Image.Max),
			logx.String("manual_trigger.image_window", newCfg.ManualTrigger.Image.Window),
			logx.Int("manual_trigger.dm_max", newCfg.ManualTrigger.DM.Max),
			logx.String("manual_trigger.dm_window", newCfg.ManualTrigger.DM.Window),
		)
	}
	return ch
}
