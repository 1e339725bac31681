package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/schedule"
)

// Config controls the scheduler service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local

	// RestoreSpread offsets the first fire of registrations made before Start
	// by a random delay bounded by min(interval, 30s).
	RestoreSpread bool
}

// Job is invoked on every fire. A returned error is logged; it never
// unregisters the job.
type Job func(ctx context.Context) error

type State string

const (
	StateArmed  State = "armed"
	StatePaused State = "paused"
)

// JobInfo is a point-in-time view of one registration.
type JobInfo struct {
	ID    schedule.JobID
	Every time.Duration
	State State
	Next  time.Time
	Prev  time.Time
}

type entry struct {
	// mu serializes every mutation of one identity.
	mu sync.Mutex

	id      schedule.JobID
	every   time.Duration
	job     Job
	paused  bool
	removed bool

	cronID cron.EntryID
	spread time.Duration // startup offset applied to the current cron entry
}
