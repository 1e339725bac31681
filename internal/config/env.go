package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	EnvTelegramToken = "REMINDBOT_TELEGRAM_TOKEN"
	EnvTableName     = "REMINDBOT_TABLE_NAME"
)

// LoadDotEnv loads KEY=VALUE files into the process environment. Variables
// already set win. Missing files are ignored; malformed ones are not.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// ApplyEnv overlays environment values on cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	if v, ok := lookup(EnvTelegramToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTableName); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.Table = strings.TrimSpace(v)
	}
}
