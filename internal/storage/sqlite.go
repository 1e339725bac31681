package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"remindbot/internal/schedule"
	logx "remindbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

func init() {
	// modernc registers itself as "sqlite", which sqlx doesn't know by default.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const recordColumns = `owner, created_at, owner_name, message, recipient_name, recipient_id, channel_id, thread_id, "interval", status`

type sqliteStore struct {
	db       *sqlx.DB
	log      logx.Logger
	table    string
	pageSize int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required when storage.driver=sqlite")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, schedule.Unavailable(err, "open")
	}
	// SQLite prefers a single writer; one connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	if path != ":memory:" {
		_, _ = db.Exec("PRAGMA journal_mode = WAL")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	}

	st := newSQLStore(db, cfg.Table, cfg.PageSize, log)
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("store opened", logx.String("path", path), logx.String("table", cfg.Table))
	return st, nil
}

func newSQLStore(db *sqlx.DB, table string, pageSize int, log logx.Logger) *sqliteStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqliteStore{db: db, log: log, table: table, pageSize: pageSize}
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	ddl := strings.ReplaceAll(schemaSQL, "{{table}}", s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return schedule.Unavailable(err, "migrate")
	}

	// Tables created before forum topics were tracked lack thread_id.
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = 'thread_id'`, s.table); err != nil {
		return schedule.Unavailable(err, "migrate")
	}
	if n == 0 {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE `+s.table+` ADD COLUMN thread_id INTEGER NOT NULL DEFAULT 0`); err != nil {
			return schedule.Unavailable(err, "migrate")
		}
		s.log.Info("store migrated", logx.String("table", s.table), logx.String("added", "thread_id"))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Create(ctx context.Context, rec schedule.Record) error {
	rec.Status = schedule.StatusActive
	if err := rec.Validate(); err != nil {
		return err
	}
	q := `INSERT INTO ` + s.table + ` (` + recordColumns + `)
		VALUES (:owner, :created_at, :owner_name, :message, :recipient_name, :recipient_id, :channel_id, :thread_id, :interval, :status)
		ON CONFLICT(owner, created_at) DO NOTHING`
	res, err := s.db.NamedExecContext(ctx, q, rec)
	if err != nil {
		return schedule.Unavailable(err, "create")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return schedule.Unavailable(err, "create")
	}
	if n == 0 {
		return errors.Wrapf(schedule.ErrDuplicateKey, "%s @ %s", rec.Owner, rec.CreatedAt)
	}
	return nil
}

func (s *sqliteStore) SetField(ctx context.Context, owner, createdAt string, field Field, value any) (bool, error) {
	var (
		col string
		arg any
	)
	switch field {
	case FieldInterval:
		n, ok := value.(int)
		if !ok || n < 1 || int64(n) > schedule.MaxInterval {
			return false, errors.Wrapf(schedule.ErrInvalidRecord, "interval must be an int in [1, %d], got %v", schedule.MaxInterval, value)
		}
		col, arg = `"interval"`, n
	case FieldStatus:
		st, ok := value.(schedule.Status)
		if !ok || !st.Valid() {
			return false, errors.Wrapf(schedule.ErrInvalidRecord, "invalid status %v", value)
		}
		col, arg = "status", string(st)
	default:
		return false, errors.Wrapf(schedule.ErrInvalidRecord, "field %q is not updatable", field)
	}

	q := `UPDATE ` + s.table + ` SET ` + col + ` = ?
		WHERE owner = ? AND created_at = ? AND status <> ? AND ` + col + ` <> ?`
	res, err := s.db.ExecContext(ctx, q, arg, owner, createdAt, string(schedule.StatusDeleted), arg)
	if err != nil {
		return false, schedule.Unavailable(err, "update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, schedule.Unavailable(err, "update")
	}
	return n > 0, nil
}

func (s *sqliteStore) SoftDelete(ctx context.Context, owner, createdAt string) (bool, error) {
	return s.SetField(ctx, owner, createdAt, FieldStatus, schedule.StatusDeleted)
}

func (s *sqliteStore) Get(ctx context.Context, owner, createdAt string) (schedule.Record, bool, error) {
	q := `SELECT ` + recordColumns + ` FROM ` + s.table + `
		WHERE owner = ? AND created_at = ? AND status <> ?`
	var rec schedule.Record
	err := s.db.GetContext(ctx, &rec, q, owner, createdAt, string(schedule.StatusDeleted))
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Record{}, false, nil
	}
	if err != nil {
		return schedule.Record{}, false, schedule.Unavailable(err, "get")
	}
	return normalize(rec), true, nil
}

func (s *sqliteStore) LookupByOwner(ctx context.Context, owner string) ([]schedule.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM ` + s.table + `
		WHERE owner = ? AND status <> ?
		ORDER BY created_at ASC`
	var out []schedule.Record
	if err := s.db.SelectContext(ctx, &out, q, owner, string(schedule.StatusDeleted)); err != nil {
		return nil, schedule.Unavailable(err, "lookup")
	}
	for i := range out {
		out[i] = normalize(out[i])
	}
	return out, nil
}

func (s *sqliteStore) ScanAll(ctx context.Context) iter.Seq2[schedule.Record, error] {
	return func(yield func(schedule.Record, error) bool) {
		var after *schedule.JobID
		for {
			page, err := s.scanPage(ctx, after)
			if err != nil {
				yield(schedule.Record{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last := page[len(page)-1].JobID()
			after = &last
		}
	}
}

// scanPage reads one keyset page ordered by (owner, created_at).
func (s *sqliteStore) scanPage(ctx context.Context, after *schedule.JobID) ([]schedule.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM ` + s.table + ` WHERE status <> ?`
	args := []any{string(schedule.StatusDeleted)}
	if after != nil {
		q += ` AND (owner, created_at) > (?, ?)`
		args = append(args, after.Owner, after.CreatedAt)
	}
	q += ` ORDER BY owner ASC, created_at ASC LIMIT ?`
	args = append(args, s.pageSize)

	var page []schedule.Record
	if err := s.db.SelectContext(ctx, &page, q, args...); err != nil {
		return nil, schedule.Unavailable(err, "scan")
	}
	for i := range page {
		page[i] = normalize(page[i])
	}
	return page, nil
}

func normalize(rec schedule.Record) schedule.Record {
	if st, err := schedule.ParseStatus(string(rec.Status)); err == nil {
		rec.Status = st
	}
	return rec
}
