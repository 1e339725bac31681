package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	validFeedback = map[string]bool{"": true, "silent": true, "verbose": true}
	validLevels   = map[string]bool{"": true, "trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validDrivers  = map[string]bool{"": true, "sqlite": true, "sqlite3": true, "memory": true}
)

// Validate rejects configs the app could not start with. It runs on Load and
// before every hot reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.WithHintf(errors.New("telegram.token is required"),
			"set it in the config file or via %s", EnvTelegramToken))
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	_, err = ParseDurationField("telegram.ready_timeout", cfg.Telegram.ReadyTimeout)
	add(err)

	if !validLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Level))] {
		add(errors.Newf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when logging.file.enabled"))
	}
	if cfg.Logging.Chat.Enabled && cfg.Telegram.LogChat == 0 {
		add(errors.New("telegram.log_chat is required when logging.chat.enabled"))
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !validDrivers[driver] {
		add(errors.Newf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if driver != "memory" && strings.TrimSpace(cfg.Storage.Path) == "" {
		add(errors.New("storage.path is required for the sqlite driver"))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)
	if cfg.Storage.PageSize < 0 {
		add(errors.New("storage.page_size must be >= 0"))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(errors.Wrapf(err, "scheduler.timezone"))
		}
	}
	if cfg.Delivery.RatePerSec < 0 {
		add(errors.New("delivery.rate_per_sec must be >= 0"))
	}
	if !validFeedback[strings.ToLower(strings.TrimSpace(cfg.Commands.Feedback))] {
		add(errors.Newf("commands.feedback: want silent or verbose, got %q", cfg.Commands.Feedback))
	}
	if cfg.Commands.Workers < 0 {
		add(errors.New("commands.workers must be >= 0"))
	}
	if p := strings.TrimSpace(cfg.Help.File); p != "" {
		if _, err := os.Stat(p); err != nil {
			add(errors.Wrap(err, "help.file"))
		}
	}
	return errors.Join(errs...)
}

// HelpText resolves the help reply, reading help.file when set.
func (c *Config) HelpText() (string, error) {
	if p := strings.TrimSpace(c.Help.File); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return "", errors.Wrap(err, "read help.file")
		}
		return string(b), nil
	}
	return c.Help.Text, nil
}
