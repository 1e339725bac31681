package messenger

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/command"
	"remindbot/internal/delivery"
	"remindbot/internal/schedule"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/transporttest"
	logx "remindbot/pkg/logx"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// callLog records store and scheduler calls in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(s string) int {
	n := 0
	for _, c := range l.list() {
		if c == s {
			n++
		}
	}
	return n
}

// recordingScheduler is a real scheduler that also keeps the registered
// callbacks so tests can fire them by hand.
type recordingScheduler struct {
	*scheduler.Service
	log *callLog

	mu        sync.Mutex
	jobs      map[schedule.JobID]scheduler.Job
	rejectErr error // returned by Reschedule when set
}

func (r *recordingScheduler) rejectReschedule(err error) {
	r.mu.Lock()
	r.rejectErr = err
	r.mu.Unlock()
}

func (r *recordingScheduler) Schedule(id schedule.JobID, every time.Duration, fn scheduler.Job) error {
	r.log.add("sched:schedule")
	r.mu.Lock()
	r.jobs[id] = fn
	r.mu.Unlock()
	return r.Service.Schedule(id, every, fn)
}

func (r *recordingScheduler) Reschedule(id schedule.JobID, every time.Duration) error {
	r.log.add("sched:reschedule")
	r.mu.Lock()
	err := r.rejectErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Service.Reschedule(id, every)
}

func (r *recordingScheduler) Pause(id schedule.JobID) error {
	r.log.add("sched:pause")
	return r.Service.Pause(id)
}

func (r *recordingScheduler) Resume(id schedule.JobID) error {
	r.log.add("sched:resume")
	return r.Service.Resume(id)
}

func (r *recordingScheduler) Remove(id schedule.JobID) bool {
	r.log.add("sched:remove")
	return r.Service.Remove(id)
}

func (r *recordingScheduler) fire(t *testing.T, id schedule.JobID) error {
	t.Helper()
	r.mu.Lock()
	fn := r.jobs[id]
	r.mu.Unlock()
	require.NotNil(t, fn, "no job registered for %s", id)
	return fn(context.Background())
}

// flakyStore wraps a Store, logs calls and fails them on demand.
type flakyStore struct {
	storage.Store
	log *callLog

	mu  sync.Mutex
	err error
}

func (f *flakyStore) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *flakyStore) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *flakyStore) Create(ctx context.Context, rec schedule.Record) error {
	f.log.add("store:create")
	if err := f.failure(); err != nil {
		return err
	}
	return f.Store.Create(ctx, rec)
}

func (f *flakyStore) SetField(ctx context.Context, owner, createdAt string, field storage.Field, value any) (bool, error) {
	f.log.add("store:set")
	if err := f.failure(); err != nil {
		return false, err
	}
	return f.Store.SetField(ctx, owner, createdAt, field, value)
}

func (f *flakyStore) SoftDelete(ctx context.Context, owner, createdAt string) (bool, error) {
	f.log.add("store:delete")
	if err := f.failure(); err != nil {
		return false, err
	}
	return f.Store.SoftDelete(ctx, owner, createdAt)
}

func (f *flakyStore) LookupByOwner(ctx context.Context, owner string) ([]schedule.Record, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	return f.Store.LookupByOwner(ctx, owner)
}

func (f *flakyStore) ScanAll(ctx context.Context) iter.Seq2[schedule.Record, error] {
	if err := f.failure(); err != nil {
		return func(yield func(schedule.Record, error) bool) { yield(schedule.Record{}, err) }
	}
	return f.Store.ScanAll(ctx)
}

type env struct {
	calls *callLog
	store *flakyStore
	sched *recordingScheduler
	tr    *transporttest.Fake
	inv   *delivery.Invoker
	d     *Dispatcher

	bob  kit.Target
	ann  kit.Target
	team kit.Target

	mu  sync.Mutex
	now time.Time
}

func newEnv(t *testing.T, feedback Feedback) *env {
	t.Helper()
	base, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })

	calls := &callLog{}
	e := &env{
		calls: calls,
		store: &flakyStore{Store: base, log: calls},
		sched: &recordingScheduler{
			Service: scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop()),
			log:     calls,
			jobs:    map[schedule.JobID]scheduler.Job{},
		},
		tr:  transporttest.New(),
		now: t0,
	}
	e.bob = e.tr.AddUser(42, "bob")
	e.ann = e.tr.AddUser(43, "ann")
	e.team = e.tr.AddChannel(-100, "team")
	e.inv = delivery.New(delivery.Config{}, e.tr, nil, logx.Nop())
	e.d = NewDispatcher(Config{Feedback: feedback, HelpText: "usage", Location: time.UTC},
		e.store, e.sched, e.inv, nil, logx.Nop())
	e.d.now = func() time.Time {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.now
	}
	return e
}

func (e *env) advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	e.mu.Unlock()
}

// run parses text and dispatches it as owner U1 in the team chat.
func (e *env) run(t *testing.T, text string, mentions ...kit.Target) Reply {
	t.Helper()
	return e.runIn(t, "U1", e.team, false, text, mentions...)
}

func (e *env) runIn(t *testing.T, owner string, chat kit.Target, private bool, text string, mentions ...kit.Target) Reply {
	t.Helper()
	cmd, ok := command.Parse(text, "remindbot")
	require.True(t, ok, "command %q did not parse", text)
	return e.d.Dispatch(context.Background(), Request{
		Owner:     owner,
		OwnerName: "alice",
		Chat:      chat,
		Private:   private,
		Mentions:  mentions,
		Command:   cmd,
	})
}

func (e *env) records(t *testing.T, owner string) []schedule.Record {
	t.Helper()
	recs, err := e.store.Store.LookupByOwner(context.Background(), owner)
	require.NoError(t, err)
	return recs
}
