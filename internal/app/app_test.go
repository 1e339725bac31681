package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/command"
	"remindbot/internal/config"
	"remindbot/internal/schedule"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/transporttest"
	logx "remindbot/pkg/logx"
)

const testConfig = `{
  "telegram": {"token": "T", "ready_timeout": "2s"},
  "storage": {"driver": "memory"},
  "scheduler": {"timezone": "UTC"},
  "commands": {"workers": 2},
  "help": {"text": "usage: add @user <seconds> <text>"}
}`

type notes struct {
	mu     sync.Mutex
	states []string
}

func (n *notes) record(s string) {
	n.mu.Lock()
	n.states = append(n.states, s)
	n.mu.Unlock()
}

func (n *notes) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.states...)
}

func newTestApp(t *testing.T, ad kit.Adapter) (*App, *notes) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(testConfig), 0o600))
	t.Setenv(config.EnvTelegramToken, "")
	t.Setenv(config.EnvTableName, "")

	cfgm := config.NewManager(p)
	cfg, err := cfgm.Load()
	require.NoError(t, err)

	a, err := assemble(cfgm, cfg, nil, logx.Nop(), ad)
	require.NoError(t, err)
	n := &notes{}
	a.notify = n.record
	return a, n
}

func msg(from int64, chat int64, text string, mentions ...kit.Target) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: chat, FromID: from, FromName: "user", Text: text,
		Private: from == chat, Mentions: mentions,
	}}
}

func TestAppEndToEnd(t *testing.T) {
	fake := transporttest.New()
	bob := fake.AddUser(42, "bob")
	fake.AddChannel(-100, "team")

	a, n := newTestApp(t, fake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	a.updates <- msg(7, -100, "add @bob 1 standup", bob)
	require.Eventually(t, func() bool {
		for _, s := range fake.Sent() {
			if s.To.ChatID == -100 && strings.HasSuffix(s.Text, " standup") {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond, "delivery into the channel")

	a.updates <- msg(7, 7, "/list")
	require.Eventually(t, func() bool {
		for _, s := range fake.Sent() {
			if s.To.ChatID == 7 && strings.Contains(s.Text, "List of all current messages") {
				assert.Contains(t, s.Text, "standup")
				assert.Equal(t, kit.ParseModeHTML, s.Opt.ParseMode)
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))
	assert.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyStopping}, n.all())
}

func TestAppRestoresOnStart(t *testing.T) {
	fake := transporttest.New()
	fake.AddUser(42, "bob")
	a, _ := newTestApp(t, fake)

	require.NoError(t, a.store.Create(context.Background(), schedule.Record{
		Owner: "7", OwnerName: "ann", CreatedAt: "2024-01-01 00:00:00",
		RecipientID: "42", RecipientName: "bob", Interval: 1, Body: "ping",
		Status: schedule.StatusActive,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() { _ = a.Stop(context.Background(), StopSignal) }()

	armed, paused := a.sched.Counts()
	assert.Equal(t, 1, armed)
	assert.Equal(t, 0, paused)
	require.Eventually(t, func() bool { return len(fake.Sent()) > 0 }, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, "ping", fake.Sent()[0].Text)
}

// neverReady never signals readiness.
type neverReady struct{ *transporttest.Fake }

func (neverReady) Ready() <-chan struct{} { return make(chan struct{}) }

func TestAppStartFailsWhenTransportNeverReady(t *testing.T) {
	a, n := newTestApp(t, neverReady{transporttest.New()})
	a.readyTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := a.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
	assert.Empty(t, n.all(), "READY must not be sent")
	_ = a.Stop(context.Background(), StopFatalError)
}

func TestApplyConfigHotReloadsHelp(t *testing.T) {
	fake := transporttest.New()
	a, _ := newTestApp(t, fake)

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Help.Text = "new help"
	newCfg.Commands.Feedback = "verbose"
	a.applyConfig(oldCfg, &newCfg)

	a.handleUpdate(context.Background(), fake.Self(), msg(7, 7, "help"))
	sent := fake.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "new help", sent[0].Text)

	// Verbose feedback now answers a rejected pause.
	a.handleUpdate(context.Background(), fake.Self(), msg(7, 7, "pause 2024-01-01 00:00:00"))
	assert.Len(t, fake.Sent(), 2)
	require.NoError(t, a.closeStore())
}

func TestRepliesInSharedChatMentionAuthor(t *testing.T) {
	fake := transporttest.New()
	fake.AddChannel(-100, "team")
	a, _ := newTestApp(t, fake)
	defer func() { _ = a.closeStore() }()
	a.disp.SetHelp("usage: add @user <seconds> <text>")

	ctx := context.Background()
	author := kit.Target{Kind: kit.TargetUser, ID: 7, Name: "user"}

	a.handleUpdate(ctx, fake.Self(), msg(7, -100, "help"))
	a.handleUpdate(ctx, fake.Self(), msg(7, -100, "list"))
	a.handleUpdate(ctx, fake.Self(), msg(7, 7, "help"))

	sent := fake.Sent()
	require.Len(t, sent, 3)

	help := sent[0]
	assert.Equal(t, int64(-100), help.To.ChatID)
	assert.Equal(t, fake.Mention(author)+" usage: add @user &lt;seconds&gt; &lt;text&gt;", help.Text)
	assert.Equal(t, kit.ParseModeHTML, help.Opt.ParseMode)

	list := sent[1]
	assert.True(t, strings.HasPrefix(list.Text, fake.Mention(author)+" "))
	assert.Contains(t, list.Text, "List of all current messages")
	assert.Equal(t, kit.ParseModeHTML, list.Opt.ParseMode)

	private := sent[2]
	assert.Equal(t, "usage: add @user <seconds> <text>", private.Text)
	assert.Empty(t, private.Opt.ParseMode)
}

func TestBuildRequest(t *testing.T) {
	self := kit.Target{Kind: kit.TargetUser, ID: 1, Username: "remindbot"}
	bob := kit.Target{Kind: kit.TargetUser, ID: 42, Name: "bob"}

	req, ok := buildRequest(&kit.Message{
		ChatID: -100, FromID: 7, FromName: "ann",
		Text:     "@remindbot add @bob 60 hi",
		Mentions: []kit.Target{self, bob},
	}, self)
	require.True(t, ok)
	assert.Equal(t, "7", req.Owner)
	assert.Equal(t, "ann", req.OwnerName)
	assert.Equal(t, kit.TargetChannel, req.Chat.Kind)
	assert.Zero(t, req.Chat.ThreadID)
	assert.Equal(t, []kit.Target{bob}, req.Mentions)
	assert.Equal(t, command.KindAdd, req.Command.Kind)

	req, ok = buildRequest(&kit.Message{
		ChatID: -100, ThreadID: 9, FromID: 7,
		Text:     "add @bob 60 hi",
		Mentions: []kit.Target{bob},
	}, self)
	require.True(t, ok)
	assert.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 9}, req.Chat.Chat(), "forum topic is kept")

	req, ok = buildRequest(&kit.Message{ChatID: 7, FromID: 7, Private: true, Text: "list"}, self)
	require.True(t, ok)
	assert.Equal(t, kit.TargetUser, req.Chat.Kind)

	_, ok = buildRequest(&kit.Message{Text: "good morning"}, self)
	assert.False(t, ok)
}

func TestWriteListing(t *testing.T) {
	a, _ := newTestApp(t, transporttest.New())
	defer func() { _ = a.closeStore() }()
	ctx := context.Background()
	require.NoError(t, a.store.Create(ctx, schedule.Record{
		Owner: "7", CreatedAt: "2024-01-01 00:00:00", RecipientID: "42",
		RecipientName: "bob", Interval: 60, Body: "hi", Status: schedule.StatusActive,
	}))

	var buf bytes.Buffer
	require.NoError(t, writeListing(ctx, a.store, "7", &buf))
	assert.Equal(t, "2024-01-01 00:00:00 Active bob (60s): hi\n", buf.String())

	buf.Reset()
	require.NoError(t, writeListing(ctx, a.store, "8", &buf))
	assert.Empty(t, buf.String())
}
