package messenger

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/schedule"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

func seed(t *testing.T, st storage.Store, rec schedule.Record) {
	t.Helper()
	ctx := context.Background()
	status := rec.Status
	require.NoError(t, st.Create(ctx, rec))
	if status != "" && status != schedule.StatusActive {
		ok, err := st.SetField(ctx, rec.Owner, rec.CreatedAt, storage.FieldStatus, status)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func rec(owner, createdAt, recipient, channel string, status schedule.Status) schedule.Record {
	return schedule.Record{
		Owner: owner, CreatedAt: createdAt,
		RecipientID: recipient, RecipientName: "r" + recipient,
		ChannelID: channel, Interval: 60, Body: "hi " + owner, Status: status,
	}
}

func TestReconcileRestoresState(t *testing.T) {
	e := newEnv(t, FeedbackSilent)
	st := e.store.Store
	seed(t, st, rec("U1", "2024-01-01 00:00:00", "42", "-100", schedule.StatusActive))
	seed(t, st, rec("U2", "2024-01-01 00:00:00", "43", "", schedule.StatusPaused))
	seed(t, st, rec("U3", "2024-01-01 00:00:00", "42", "42", schedule.StatusActive))
	seed(t, st, rec("U4", "2024-01-01 00:00:00", "42", "", schedule.StatusDeleted))
	seed(t, st, rec("U5", "2024-01-01 00:00:00", "999", "", schedule.StatusActive))
	seed(t, st, rec("U6", "2024-01-01 00:00:00", "42", "-555", schedule.StatusActive))

	r := NewReconciler(e.store, e.tr, e.sched, e.inv, nil, logx.Nop())
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Armed)
	assert.Equal(t, 1, rep.Paused)
	assert.Equal(t, 2, rep.Skipped, "unresolved recipient and channel are skipped")

	states := map[string]scheduler.State{}
	for _, it := range e.sched.Snapshot() {
		states[it.ID.Owner] = it.State
	}
	assert.Equal(t, map[string]scheduler.State{
		"U1": scheduler.StateArmed,
		"U2": scheduler.StatePaused,
		"U3": scheduler.StateArmed,
	}, states)

	// Channel record mentions the recipient in the channel; a channel equal
	// to the recipient means direct delivery.
	require.NoError(t, e.sched.fire(t, schedule.JobID{Owner: "U1", CreatedAt: "2024-01-01 00:00:00"}))
	require.NoError(t, e.sched.fire(t, schedule.JobID{Owner: "U3", CreatedAt: "2024-01-01 00:00:00"}))
	sent := e.tr.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, int64(-100), sent[0].To.ChatID)
	assert.Equal(t, e.tr.Mention(e.bob)+" hi U1", sent[0].Text)
	assert.Equal(t, int64(42), sent[1].To.ChatID)
	assert.Equal(t, "hi U3", sent[1].Text)
}

func TestReconcileTwiceHasNoDuplicates(t *testing.T) {
	e := newEnv(t, FeedbackSilent)
	seed(t, e.store.Store, rec("U1", "2024-01-01 00:00:00", "42", "-100", schedule.StatusActive))
	seed(t, e.store.Store, rec("U2", "2024-01-01 00:00:00", "43", "", schedule.StatusPaused))

	r := NewReconciler(e.store, e.tr, e.sched, e.inv, nil, logx.Nop())
	for i := 0; i < 2; i++ {
		_, err := r.Run(context.Background())
		require.NoError(t, err)
	}
	armed, paused := e.sched.Counts()
	assert.Equal(t, 1, armed)
	assert.Equal(t, 1, paused)
}

func TestReconcileStorageFailureIsFatal(t *testing.T) {
	e := newEnv(t, FeedbackSilent)
	e.store.fail(schedule.Unavailable(errors.New("no route to host"), "scan"))

	r := NewReconciler(e.store, e.tr, e.sched, e.inv, nil, logx.Nop())
	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, schedule.ErrStorageUnavailable))
	assert.Empty(t, e.sched.Snapshot())
}

// Restart with one paused and one active record for different owners.
func TestRestartScenario(t *testing.T) {
	e := newEnv(t, FeedbackSilent)
	e.run(t, "add @bob 1 tick", e.bob)
	e.runIn(t, "U2", e.team, false, "add @ann 1 tock", e.ann)
	e.runIn(t, "U2", e.team, false, "pause 2024-01-01 00:00:00")

	// A new process: fresh scheduler, same store.
	fresh := scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop())
	r := NewReconciler(e.store, e.tr, fresh, e.inv, nil, logx.Nop())
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Armed: 1, Paused: 1, Took: rep.Took}, rep)

	fresh.Start(context.Background())
	defer fresh.Stop(context.Background())

	snap := fresh.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "U1", snap[0].ID.Owner)
	assert.Equal(t, scheduler.StateArmed, snap[0].State)
	assert.Equal(t, scheduler.StatePaused, snap[1].State)

	require.Eventually(t, func() bool { return len(e.tr.Sent()) >= 1 }, 3*time.Second, 50*time.Millisecond)
	for _, s := range e.tr.Sent() {
		assert.Contains(t, s.Text, "tick", "paused job must not fire")
	}
}

func TestReconcileLogsSkippedRecords(t *testing.T) {
	e := newEnv(t, FeedbackSilent)
	seed(t, e.store.Store, rec("U1", "2024-01-01 00:00:00", "999", "", schedule.StatusActive))
	seed(t, e.store.Store, rec("U2", "2024-01-01 00:00:00", "42", "-555", schedule.StatusActive))

	var buf bytes.Buffer
	r := NewReconciler(e.store, e.tr, e.sched, e.inv, nil, logx.NewWriter(&buf, "info"))
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	assert.Empty(t, e.sched.Snapshot())

	out := buf.String()
	assert.Contains(t, out, "skip record: recipient unresolved")
	assert.Contains(t, out, `"recipient_id":"999"`)
	assert.Contains(t, out, "skip record: channel unresolved")
	assert.Contains(t, out, `"channel_id":"-555"`)
	assert.Contains(t, out, `"skipped":2`)
}

func TestReconcileKeepsForumTopic(t *testing.T) {
	e := newEnv(t, FeedbackSilent)
	r0 := rec("U1", "2024-01-01 00:00:00", "42", "-100", schedule.StatusActive)
	r0.ThreadID = 9
	seed(t, e.store.Store, r0)

	r := NewReconciler(e.store, e.tr, e.sched, e.inv, nil, logx.Nop())
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Armed)

	require.NoError(t, e.sched.fire(t, r0.JobID()))
	sent := e.tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(-100), sent[0].To.ChatID)
	assert.Equal(t, 9, sent[0].To.ThreadID)
}
