package app

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/messenger"
	"remindbot/internal/observability/metrics"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

const (
	defaultWorkers      = 4
	defaultReadyTimeout = 30 * time.Second
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if driver != "memory" && path == "" {
		return storage.Config{}, errors.Newf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		Table:       sc.Table,
		BusyTimeout: busy,
		PageSize:    sc.PageSize,
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			ChatID:     cfg.Telegram.LogChat,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapReadyTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("telegram.ready_timeout", cfg.Telegram.ReadyTimeout, defaultReadyTimeout)
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Timezone:      strings.TrimSpace(cfg.Scheduler.Timezone),
		RestoreSpread: cfg.Scheduler.RestoreSpread,
	}
}

func mapDeliveryConfig(cfg *config.Config) delivery.Config {
	return delivery.Config{RatePerSec: cfg.Delivery.RatePerSec}
}

func mapMetricsConfig(cfg *config.Config) metrics.ServerConfig {
	return metrics.ServerConfig{
		Enabled:       cfg.Metrics.Enabled,
		Addr:          cfg.Metrics.Addr,
		Token:         cfg.Metrics.Token,
		AllowInsecure: cfg.Metrics.AllowInsecure,
		Pprof:         cfg.Metrics.Pprof,
	}
}

func mapWorkers(cfg *config.Config) int {
	if cfg.Commands.Workers > 0 {
		return cfg.Commands.Workers
	}
	return defaultWorkers
}

func mapFeedback(cfg *config.Config) messenger.Feedback {
	return messenger.ParseFeedback(strings.ToLower(strings.TrimSpace(cfg.Commands.Feedback)))
}
