package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	"remindbot/internal/schedule"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/transporttest"
	logx "remindbot/pkg/logx"
)

func record() schedule.Record {
	return schedule.Record{
		Owner: "U1", CreatedAt: "2024-01-01 00:00:00",
		RecipientID: "42", RecipientName: "bob",
		Interval: 60, Body: "Hello <b>", Status: schedule.StatusActive,
	}
}

func TestDeliverDirect(t *testing.T) {
	tr := transporttest.New()
	bob := tr.AddUser(42, "bob")
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	inv := New(Config{}, tr, bus, logx.Nop())
	require.NoError(t, inv.Job(record(), bob, nil)(context.Background()))

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(42), sent[0].To.ChatID)
	assert.Equal(t, "Hello <b>", sent[0].Text)
	assert.Nil(t, sent[0].Opt)

	e := <-events
	assert.Equal(t, eventbus.DeliverySent, e.Type)
	assert.False(t, e.Data.(eventbus.DeliveryData).Channel)
}

func TestDeliverChannelMention(t *testing.T) {
	tr := transporttest.New()
	bob := tr.AddUser(42, "bob")
	ch := tr.AddChannel(-100, "team")

	inv := New(Config{}, tr, nil, logx.Nop())
	require.NoError(t, inv.Deliver(context.Background(), record(), bob, &ch))

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(-100), sent[0].To.ChatID)
	assert.Equal(t, tr.Mention(bob)+" Hello &lt;b&gt;", sent[0].Text)
	require.NotNil(t, sent[0].Opt)
	assert.Equal(t, kit.ParseModeHTML, sent[0].Opt.ParseMode)
}

func TestDeliverFailureReported(t *testing.T) {
	tr := transporttest.New()
	bob := tr.AddUser(42, "bob")
	boom := errors.New("forbidden: bot was blocked by the user")
	tr.FailSends(boom)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	inv := New(Config{}, tr, bus, logx.Nop())
	err := inv.Deliver(context.Background(), record(), bob, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	e := <-events
	assert.Equal(t, eventbus.DeliveryFailed, e.Type)
	assert.NotEmpty(t, e.Data.(eventbus.DeliveryData).Err)
}

func TestDeliverRateLimited(t *testing.T) {
	tr := transporttest.New()
	bob := tr.AddUser(42, "bob")
	inv := New(Config{RatePerSec: 2}, tr, nil, logx.Nop())

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, inv.Deliver(context.Background(), record(), bob, nil))
	}
	// burst of 2, then two more at 2/s
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	assert.Len(t, tr.Sent(), 4)
}

func TestDeliverCanceledWhileWaiting(t *testing.T) {
	tr := transporttest.New()
	bob := tr.AddUser(42, "bob")
	inv := New(Config{RatePerSec: 1}, tr, nil, logx.Nop())
	require.NoError(t, inv.Deliver(context.Background(), record(), bob, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, inv.Deliver(ctx, record(), bob, nil))
	assert.Len(t, tr.Sent(), 1)
}
