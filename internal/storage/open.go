package storage

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	logx "remindbot/pkg/logx"
)

var reTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Open initializes the configured store and ensures its table exists.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = DefaultTable
	}
	if !reTableName.MatchString(table) {
		return nil, errors.Newf("storage.table: invalid table name %q", table)
	}
	cfg.Table = table
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		cfg.Path = ":memory:"
		return openSQLite(cfg, log)
	default:
		return nil, errors.Newf("unknown storage driver: %s", cfg.Driver)
	}
}
