// Package delivery sends a scheduled message when its timer fires.
package delivery

import (
	"context"
	"html"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	"remindbot/internal/schedule"
	"remindbot/internal/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Config struct {
	// RatePerSec caps outbound sends across all jobs. 0 disables the cap.
	RatePerSec int
}

// Transport is what the invoker needs from the chat adapter.
type Transport interface {
	kit.Sender
	kit.Mentioner
}

type Invoker struct {
	tr      Transport
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, tr Transport, bus eventbus.Bus, log logx.Logger) *Invoker {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &Invoker{tr: tr, bus: bus, log: log, limiter: lim}
}

// Job binds rec to its resolved targets. channel is nil for direct delivery.
func (inv *Invoker) Job(rec schedule.Record, recipient kit.Target, channel *kit.Target) scheduler.Job {
	return func(ctx context.Context) error {
		return inv.Deliver(ctx, rec, recipient, channel)
	}
}

// Deliver sends rec.Body once. With a channel the recipient is mentioned
// inline in that channel; otherwise the body goes to the recipient privately.
func (inv *Invoker) Deliver(ctx context.Context, rec schedule.Record, recipient kit.Target, channel *kit.Target) error {
	start := time.Now()
	job := rec.JobID().String()

	if err := inv.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "delivery rate limit")
	}

	var (
		to   kit.ChatTarget
		text string
		opt  *kit.SendOptions
	)
	if channel != nil {
		to = channel.Chat()
		text = inv.tr.Mention(recipient) + " " + html.EscapeString(rec.Body)
		opt = &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true}
	} else {
		to = recipient.Chat()
		text = rec.Body
	}

	_, err := inv.tr.SendText(ctx, to, text, opt)
	data := eventbus.DeliveryData{Job: job, Channel: channel != nil, Took: time.Since(start)}
	if err != nil {
		data.Err = err.Error()
		inv.bus.Publish(eventbus.Event{Type: eventbus.DeliveryFailed, Data: data})
		inv.log.Warn("delivery failed",
			logx.String("job", job),
			logx.Int64("chat_id", to.ChatID),
			logx.Err(err),
		)
		return errors.Wrapf(err, "deliver %s", job)
	}
	inv.bus.Publish(eventbus.Event{Type: eventbus.DeliverySent, Data: data})
	inv.log.Debug("delivered",
		logx.String("job", job),
		logx.String("recipient", recipient.Name),
		logx.Int64("chat_id", to.ChatID),
		logx.Duration("took", data.Took),
	)
	return nil
}
