// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"

	"remindbot/internal/schedule"
	kit "remindbot/internal/transport"
)

// Sent is one recorded SendText call.
type Sent struct {
	To   kit.ChatTarget
	Text string
	Opt  *kit.SendOptions
}

// Fake records sends and resolves from fixed tables.
type Fake struct {
	mu       sync.Mutex
	users    map[string]kit.Target
	channels map[string]kit.Target
	sent     []Sent
	sendErr  error
	self     kit.Target
	ready    chan struct{}
	readyOne sync.Once
}

func New() *Fake {
	return &Fake{
		users:    map[string]kit.Target{},
		channels: map[string]kit.Target{},
		self:     kit.Target{Kind: kit.TargetUser, ID: 1, Name: "remindbot", Username: "remindbot"},
		ready:    make(chan struct{}),
	}
}

func (f *Fake) AddUser(id int64, name string) kit.Target {
	t := kit.Target{Kind: kit.TargetUser, ID: id, Name: name, Username: name}
	f.mu.Lock()
	f.users[t.IDString()] = t
	f.mu.Unlock()
	return t
}

func (f *Fake) AddChannel(id int64, name string) kit.Target {
	t := kit.Target{Kind: kit.TargetChannel, ID: id, Name: name}
	f.mu.Lock()
	f.channels[t.IDString()] = t
	f.mu.Unlock()
	return t
}

// FailSends makes every later SendText return err (nil restores).
func (f *Fake) FailSends(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

func (f *Fake) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return kit.MessageRef{}, f.sendErr
	}
	f.sent = append(f.sent, Sent{To: to, Text: text, Opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *Fake) ResolveUser(_ context.Context, id string) (kit.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.users[id]; ok {
		return t, nil
	}
	return kit.Target{}, errors.Wrapf(schedule.ErrRecipientUnresolved, "user %s", id)
}

func (f *Fake) ResolveChannel(_ context.Context, id string) (kit.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.channels[id]; ok {
		return t, nil
	}
	return kit.Target{}, errors.Wrapf(schedule.ErrRecipientUnresolved, "channel %s", id)
}

func (f *Fake) Mention(t kit.Target) string {
	return fmt.Sprintf(`<a href="tg://user?id=%s">%s</a>`, strconv.FormatInt(t.ID, 10), t.Name)
}

func (f *Fake) Start(ctx context.Context, _ chan<- kit.Update) error {
	f.readyOne.Do(func() { close(f.ready) })
	<-ctx.Done()
	return nil
}

func (f *Fake) Stop(context.Context) error { return nil }

func (f *Fake) Ready() <-chan struct{} { return f.ready }

func (f *Fake) Self() kit.Target { return f.self }

var _ kit.Adapter = (*Fake)(nil)
