package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"remindbot/internal/schedule"
	logx "remindbot/pkg/logx"
)

type Service struct {
	mu sync.Mutex // guards jobs, started, runCtx

	log logx.Logger
	cfg Config
	loc *time.Location
	c   *cron.Cron

	jobs    map[schedule.JobID]*entry
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		jobs:   map[schedule.JobID]*entry{},
		runCtx: context.Background(),
	}
	s.loc = s.loadLocation()
	s.c = cron.New(cron.WithLocation(s.loc), cron.WithLogger(cronLogger{log: log}))
	return s
}

// Location is the timezone timers run in. Record timestamps are stamped in it too.
func (s *Service) Location() *time.Location { return s.loc }

// Start begins firing. Entries registered before Start are armed now.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop stops firing and waits for in-flight jobs until ctx expires.
// Registrations are kept.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		// best-effort
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Schedule registers fn to fire every interval under id, replacing any
// existing registration for the same identity.
func (s *Service) Schedule(id schedule.JobID, every time.Duration, fn Job) error {
	if id.IsZero() {
		return errors.New("job id required")
	}
	if every < time.Second {
		return errors.Newf("interval must be at least 1s, got %s", every)
	}
	if fn == nil {
		return errors.New("job func required")
	}
	for {
		e, restoring := s.getOrCreate(id)
		e.mu.Lock()
		if e.removed {
			// Lost a race with Remove; register a fresh entry.
			e.mu.Unlock()
			continue
		}
		replaced := e.job != nil
		s.disarmLocked(e)
		e.every = every
		e.job = fn
		e.paused = false
		s.armLocked(e, restoring && s.cfg.RestoreSpread)
		e.mu.Unlock()

		fields := []logx.Field{logx.String("job", id.String()), logx.Duration("every", every)}
		if e.spread > 0 {
			fields = append(fields, logx.Duration("spread", e.spread))
		}
		if replaced {
			s.log.Warn("job replaced", fields...)
		} else {
			s.log.Debug("job scheduled", fields...)
		}
		return nil
	}
}

// Reschedule changes the firing period, keeping the armed/paused state.
func (s *Service) Reschedule(id schedule.JobID, every time.Duration) error {
	if every < time.Second {
		return errors.Newf("interval must be at least 1s, got %s", every)
	}
	return s.withEntry(id, func(e *entry) {
		e.every = every
		if !e.paused {
			s.disarmLocked(e)
			s.armLocked(e, false)
		}
		s.log.Debug("job rescheduled", logx.String("job", id.String()), logx.Duration("every", every))
	})
}

// Pause suspends firing without losing the registration.
func (s *Service) Pause(id schedule.JobID) error {
	return s.withEntry(id, func(e *entry) {
		if e.paused {
			return
		}
		s.disarmLocked(e)
		e.paused = true
		s.log.Debug("job paused", logx.String("job", id.String()))
	})
}

// Resume re-arms a paused job. The interval restarts now; missed fires are
// not caught up.
func (s *Service) Resume(id schedule.JobID) error {
	return s.withEntry(id, func(e *entry) {
		if !e.paused {
			return
		}
		e.paused = false
		s.armLocked(e, false)
		s.log.Debug("job resumed", logx.String("job", id.String()))
	})
}

// Remove unregisters id. It reports whether something was removed; removing
// an unknown id is not an error. An in-flight fire is allowed to finish.
func (s *Service) Remove(id schedule.JobID) bool {
	s.mu.Lock()
	e := s.jobs[id]
	s.mu.Unlock()
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	s.disarmLocked(e)
	e.removed = true

	s.mu.Lock()
	if s.jobs[id] == e {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	s.log.Debug("job removed", logx.String("job", id.String()))
	return true
}

// State reports the run state of id.
func (s *Service) State(id schedule.JobID) (State, bool) {
	s.mu.Lock()
	e := s.jobs[id]
	s.mu.Unlock()
	if e == nil {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return "", false
	}
	return e.state(), true
}

// Snapshot returns every registration ordered by owner then createdAt.
func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		it := JobInfo{ID: e.id, Every: e.every, State: e.state()}
		if e.cronID != 0 {
			ce := s.c.Entry(e.cronID)
			it.Next, it.Prev = ce.Next, ce.Prev
		}
		e.mu.Unlock()
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.Owner != out[j].ID.Owner {
			return out[i].ID.Owner < out[j].ID.Owner
		}
		return out[i].ID.CreatedAt < out[j].ID.CreatedAt
	})
	return out
}

// Counts returns the number of armed and paused registrations.
func (s *Service) Counts() (armed, paused int) {
	for _, it := range s.Snapshot() {
		if it.State == StatePaused {
			paused++
		} else {
			armed++
		}
	}
	return armed, paused
}

func (e *entry) state() State {
	if e.paused {
		return StatePaused
	}
	return StateArmed
}

// getOrCreate returns the live entry for id. restoring is true when the
// scheduler has not been started yet.
func (s *Service) getOrCreate(id schedule.JobID) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.jobs[id]
	if e == nil {
		e = &entry{id: id}
		s.jobs[id] = e
	}
	return e, !s.started
}

func (s *Service) withEntry(id schedule.JobID, fn func(e *entry)) error {
	s.mu.Lock()
	e := s.jobs[id]
	s.mu.Unlock()
	if e == nil {
		return errors.Wrapf(schedule.ErrJobNotFound, "%s", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.job == nil {
		return errors.Wrapf(schedule.ErrJobNotFound, "%s", id)
	}
	fn(e)
	return nil
}

// armLocked adds a cron entry for e. Call with e.mu held.
func (s *Service) armLocked(e *entry, spread bool) {
	var sched cron.Schedule = cron.Every(e.every)
	e.spread = 0
	if spread {
		sched, e.spread = makeIntervalScheduleWithSpread(e.every, time.Now().In(s.loc), e.id.String())
	}
	e.cronID = s.c.Schedule(sched, s.wrap(e.id, e.job))
}

// disarmLocked removes e's cron entry, if any. Call with e.mu held.
func (s *Service) disarmLocked(e *entry) {
	if e.cronID != 0 {
		s.c.Remove(e.cronID)
		e.cronID = 0
	}
}

// wrap adapts a Job to cron. Overlapping fires of the same entry are skipped
// so a slow delivery delays only its own job.
func (s *Service) wrap(id schedule.JobID, fn Job) cron.Job {
	cl := cronLogger{log: s.log}
	return cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if err := fn(ctx); err != nil {
			s.log.Warn("job failed", logx.String("job", id.String()), logx.Err(err))
		}
	}))
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
