package config

import (
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeChange returns (1) the sorted list of changed sections, (2) safe
// structured attrs for logging (never includes secrets like tokens), and
// (3) the changed sections that only take effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)
	restart := make([]string, 0, 4)

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		strings.TrimSpace(ot.ReadyTimeout) != strings.TrimSpace(nt.ReadyTimeout) ||
		ot.LogChat != nt.LogChat {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Bool("telegram.log_chat_set", nt.LogChat != 0),
		)
		// log_chat alone is applied live through the logging sink.
		if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.ReadyTimeout != nt.ReadyTimeout {
			restart = append(restart, "telegram")
		}
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	// Storage (path may be sensitive; only surface whether it changed)
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_changed", oldCfg.Storage.Path != newCfg.Storage.Path),
			logx.String("storage.table", strings.TrimSpace(newCfg.Storage.Table)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		restart = append(restart, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Bool("scheduler.restore_spread", newCfg.Scheduler.RestoreSpread),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		restart = append(restart, "delivery")
		attrs = append(attrs, logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec))
	}

	if oldCfg.Commands != newCfg.Commands {
		changed = append(changed, "commands")
		attrs = append(attrs,
			logx.String("commands.feedback", newCfg.Commands.Feedback),
			logx.Int("commands.workers", newCfg.Commands.Workers),
		)
		if oldCfg.Commands.Workers != newCfg.Commands.Workers {
			restart = append(restart, "commands.workers")
		}
	}

	if oldCfg.Help != newCfg.Help {
		changed = append(changed, "help")
		attrs = append(attrs, logx.Bool("help.file_set", strings.TrimSpace(newCfg.Help.File) != ""))
	}

	// Metrics (never log token)
	om, nm := oldCfg.Metrics, newCfg.Metrics
	if om != nm {
		changed = append(changed, "metrics")
		restart = append(restart, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(nm.Addr)),
			logx.Bool("metrics.token_set", strings.TrimSpace(nm.Token) != ""),
			logx.Bool("metrics.pprof", nm.Pprof),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
