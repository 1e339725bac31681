package schedule

import (
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusActive  Status = "Active"
	StatusPaused  Status = "Paused"
	StatusDeleted Status = "Deleted"
)

// ParseStatus accepts the canonical spellings plus "Pause", which older
// rows were written with.
func ParseStatus(s string) (Status, error) {
	switch strings.TrimSpace(s) {
	case string(StatusActive):
		return StatusActive, nil
	case string(StatusPaused), "Pause":
		return StatusPaused, nil
	case string(StatusDeleted):
		return StatusDeleted, nil
	default:
		return "", errors.Wrapf(ErrInvalidRecord, "unknown status %q", s)
	}
}

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusPaused || s == StatusDeleted
}

// TimestampLayout is the second-resolution layout of Record.CreatedAt.
// Users type this string back to address a record, so it is part of the
// command surface and must not change.
const TimestampLayout = "2006-01-02 15:04:05"

func FormatCreatedAt(t time.Time) string { return t.Format(TimestampLayout) }

// Record is one scheduled message.
type Record struct {
	Owner     string `db:"owner"`
	OwnerName string `db:"owner_name"`
	CreatedAt string `db:"created_at"`

	RecipientID   string `db:"recipient_id"`
	RecipientName string `db:"recipient_name"`
	ChannelID     string `db:"channel_id"`
	ThreadID      int    `db:"thread_id"` // forum topic within ChannelID; 0 for none

	Interval int    `db:"interval"` // seconds, 1..MaxInterval
	Body     string `db:"message"`
	Status   Status `db:"status"`
}

func (r Record) JobID() JobID { return JobID{Owner: r.Owner, CreatedAt: r.CreatedAt} }

// DirectDelivery reports whether the message goes to the recipient's private
// chat rather than being posted with a mention in ChannelID.
func (r Record) DirectDelivery() bool {
	return r.ChannelID == "" || r.ChannelID == r.RecipientID
}

// MaxInterval is the longest interval, in seconds, that still fits a
// time.Duration. Longer values would overflow into a wrong or negative timer.
const MaxInterval = math.MaxInt64 / int64(time.Second)

func (r Record) Every() time.Duration { return time.Duration(r.Interval) * time.Second }

func (r Record) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return errors.Wrap(ErrInvalidRecord, "owner required")
	}
	if strings.TrimSpace(r.CreatedAt) == "" {
		return errors.Wrap(ErrInvalidRecord, "created_at required")
	}
	if strings.TrimSpace(r.RecipientID) == "" {
		return errors.Wrap(ErrInvalidRecord, "recipient required")
	}
	if r.Interval < 1 || int64(r.Interval) > MaxInterval {
		return errors.Wrapf(ErrInvalidRecord, "interval must be in [1, %d], got %d", MaxInterval, r.Interval)
	}
	if r.Status != "" && !r.Status.Valid() {
		return errors.Wrapf(ErrInvalidRecord, "invalid status %q", r.Status)
	}
	return nil
}

// JobID joins a Record to its scheduler entry.
type JobID struct {
	Owner     string
	CreatedAt string
}

// String is the legacy concatenated form (owner immediately followed by
// createdAt). It is used for logging only; lookups use the struct.
func (id JobID) String() string { return id.Owner + id.CreatedAt }

func (id JobID) IsZero() bool { return id.Owner == "" && id.CreatedAt == "" }
