package storage

import (
	"context"
	"iter"
	"time"

	"remindbot/internal/schedule"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "memory": in-process SQLite database (tests, dry runs)
type Config struct {
	Driver      string
	Path        string
	Table       string
	BusyTimeout time.Duration // 0 means default
	PageSize    int           // ScanAll page size; 0 means default
}

const (
	DefaultTable    = "messages"
	DefaultPageSize = 100
)

// Field names a conditionally updatable column.
type Field string

const (
	FieldInterval Field = "interval"
	FieldStatus   Field = "status"
)

// Store is the Schedule Store contract.
//
// All methods are safe for concurrent use. Conditional updates return
// (false, nil) when nothing changed, including when the record does not exist
// or is already deleted. Backing-store failures are marked with
// schedule.ErrStorageUnavailable.
type Store interface {
	// Create persists rec with status Active.
	// It fails with schedule.ErrDuplicateKey if (owner, createdAt) exists.
	Create(ctx context.Context, rec schedule.Record) error

	// SetField updates field to value only if the record exists, is not
	// deleted, and the current value differs.
	SetField(ctx context.Context, owner, createdAt string, field Field, value any) (bool, error)

	// SoftDelete is SetField(status, Deleted).
	SoftDelete(ctx context.Context, owner, createdAt string) (bool, error)

	// Get returns a single non-deleted record.
	Get(ctx context.Context, owner, createdAt string) (schedule.Record, bool, error)

	// LookupByOwner returns the owner's non-deleted records by createdAt ascending.
	LookupByOwner(ctx context.Context, owner string) ([]schedule.Record, error)

	// ScanAll lazily yields every non-deleted record. Each range over the
	// sequence starts from the beginning. A storage error is yielded once and
	// ends the sequence.
	ScanAll(ctx context.Context) iter.Seq2[schedule.Record, error]

	Close() error
}
