// Package telegram implements transport.Adapter on the Telegram Bot API
// using long polling.
package telegram

import (
	"context"
	"html"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	tele "gopkg.in/telebot.v4"

	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/schedule"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration // default 10s
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot   *tele.Bot
	out   atomic.Value // chan<- kit.Update
	users *userCache

	runMu   sync.Mutex
	running bool
	polling atomic.Bool

	// sup owns the poll loop, drop reporter and stop watcher.
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	ready     chan struct{}
	readyOnce sync.Once

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates atomic.Uint64
}

// New connects to the Bot API (getMe) and registers the message handler.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	a := &Adapter{
		cfg:   cfg,
		log:   log,
		users: newUserCache(),
		ready: make(chan struct{}),
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &readyPoller{LongPoller: tele.LongPoller{Timeout: cfg.PollTimeout}, onStart: a.markReady},
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "telegram connect")
	}
	a.bot = b
	a.users.remember(b.Me)
	// Keep atomic.Value's dynamic type stable.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

// readyPoller closes the adapter's Ready channel once polling begins.
type readyPoller struct {
	tele.LongPoller
	onStart func()
}

func (p *readyPoller) Poll(b *tele.Bot, dest chan tele.Update, stop chan struct{}) {
	p.onStart()
	p.LongPoller.Poll(b, dest, stop)
}

func (a *Adapter) markReady() {
	a.readyOnce.Do(func() {
		close(a.ready)
		a.log.Info("polling started", logx.String("bot", a.bot.Me.Username))
	})
}

func (a *Adapter) Ready() <-chan struct{} { return a.ready }

func (a *Adapter) Self() kit.Target {
	me := a.bot.Me
	if me == nil {
		return kit.Target{Kind: kit.TargetUser}
	}
	return userTarget(me)
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil {
		return nil
	}
	a.users.remember(m.Sender)

	text, mentions := collapseMentions(m.Text, m.Entities, a.users)
	self := a.Self().ID
	resolved := make([]kit.Target, 0, len(mentions))
	for _, t := range mentions {
		if t.ID != self {
			resolved = append(resolved, t)
		}
	}

	a.sendUpdate(kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:       m.ID,
			ChatID:   m.Chat.ID,
			ThreadID: m.ThreadID,
			FromID:   m.Sender.ID,
			FromName: displayName(m.Sender),
			Text:     text,
			Private:  m.Private(),
			Mentions: resolved,
		},
	})
	return nil
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

// Start begins long polling and returns immediately. Updates that do not fit
// into out are dropped and reported.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.polling.Load() {
			a.bot.Stop()
		}
	})

	// bot.Start blocks until Stop. In some failure modes it can return early;
	// the restart loop self-heals.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.polling.Store(true)
		a.bot.Start()
		a.polling.Store(false)
		if c.Err() != nil {
			return nil
		}
		return errors.New("polling exited")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	return nil
}

// Stop never blocks shutdown longer than a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.droppedUpdates.Load()))
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, errors.Wrapf(err, "send to %d", to.ChatID)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// ResolveUser looks the id up via getChat, falling back to users the bot has
// seen. Telegram only answers getChat for users who have interacted with the bot.
func (a *Adapter) ResolveUser(ctx context.Context, id string) (kit.Target, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return kit.Target{}, errors.Wrapf(schedule.ErrRecipientUnresolved, "user id %q", id)
	}
	if err := ctx.Err(); err != nil {
		return kit.Target{}, err
	}
	chat, err := a.bot.ChatByID(n)
	if err == nil && chat.Type == tele.ChatPrivate {
		t := kit.Target{Kind: kit.TargetUser, ID: chat.ID, Name: chatName(chat), Username: chat.Username}
		a.users.put(t)
		return t, nil
	}
	if t, ok := a.users.byID(n); ok {
		return t, nil
	}
	if err == nil {
		err = errors.Newf("chat %d is a %s", n, chat.Type)
	}
	return kit.Target{}, errors.Mark(errors.Wrapf(err, "resolve user %d", n), schedule.ErrRecipientUnresolved)
}

func (a *Adapter) ResolveChannel(ctx context.Context, id string) (kit.Target, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return kit.Target{}, errors.Wrapf(schedule.ErrRecipientUnresolved, "channel id %q", id)
	}
	if err := ctx.Err(); err != nil {
		return kit.Target{}, err
	}
	chat, err := a.bot.ChatByID(n)
	if err != nil {
		return kit.Target{}, errors.Mark(errors.Wrapf(err, "resolve channel %d", n), schedule.ErrRecipientUnresolved)
	}
	kind := kit.TargetChannel
	if chat.Type == tele.ChatPrivate {
		kind = kit.TargetUser
	}
	return kit.Target{Kind: kind, ID: chat.ID, Name: chatName(chat), Username: chat.Username}, nil
}

// Mention renders an HTML inline mention that works without a username.
func (a *Adapter) Mention(t kit.Target) string {
	name := t.Name
	if name == "" {
		name = t.Username
	}
	if name == "" {
		name = strconv.FormatInt(t.ID, 10)
	}
	return `<a href="tg://user?id=` + strconv.FormatInt(t.ID, 10) + `">` + html.EscapeString(name) + `</a>`
}

func userTarget(u *tele.User) kit.Target {
	return kit.Target{Kind: kit.TargetUser, ID: u.ID, Name: displayName(u), Username: u.Username}
}

func displayName(u *tele.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

func chatName(c *tele.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		name = c.Username
	}
	return name
}

var _ kit.Adapter = (*Adapter)(nil)
