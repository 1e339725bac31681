package transport

import (
	"context"
	"strconv"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID       int
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
	FromID   int64
	FromName string
	Text     string

	// Private is true when the message was sent in a direct chat with the bot.
	Private bool

	// Mentions holds the users referenced in the text, in order of appearance.
	// Only mentions the adapter could resolve to a user id are included.
	Mentions []Target
}

// Chat returns the reply target for m.
func (m *Message) Chat() ChatTarget {
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

const ParseModeHTML = "HTML"

type TargetKind string

const (
	TargetUser    TargetKind = "user"
	TargetChannel TargetKind = "channel"
)

// Target is a resolved delivery endpoint: a user (direct message) or a shared chat.
type Target struct {
	Kind     TargetKind
	ID       int64
	Name     string
	Username string

	// ThreadID is the forum topic for channel targets; 0 for none.
	ThreadID int
}

// IDString returns the id in the form persisted by the schedule store.
func (t Target) IDString() string { return strconv.FormatInt(t.ID, 10) }

// Chat returns the chat a message to t should be sent to.
// For users this is their private chat, whose id equals the user id.
func (t Target) Chat() ChatTarget { return ChatTarget{ChatID: t.ID, ThreadID: t.ThreadID} }

// Sender is the minimal outbound contract used by delivery and logging sinks.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Resolver maps persisted ids back to live targets.
type Resolver interface {
	ResolveUser(ctx context.Context, id string) (Target, error)
	ResolveChannel(ctx context.Context, id string) (Target, error)
}

// Mentioner renders an inline mention of a user in the adapter's markup.
type Mentioner interface {
	Mention(t Target) string
}

type Adapter interface {
	Sender
	Resolver
	Mentioner

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// Ready is closed once the adapter is connected and can resolve and send.
	Ready() <-chan struct{}

	// Self returns the bot's own identity (valid after Ready).
	Self() Target
}
