package messenger

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"remindbot/internal/command"
	"remindbot/internal/eventbus"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	replyDeleted     = "Message deleted"
	replyNotFound    = "Timestamp does not exist"
	replyUnavailable = "Storage is unavailable right now, please try again later."
)

type Config struct {
	Feedback Feedback
	HelpText string
	Location *time.Location // createdAt stamping; nil means Local
}

type Dispatcher struct {
	store storage.Store
	sched Scheduler
	jobs  JobFactory
	bus   eventbus.Bus
	log   logx.Logger

	loc   *time.Location
	now   clock
	locks *keyedMutex

	feedback atomic.Value // Feedback
	help     atomic.Value // string
}

func NewDispatcher(cfg Config, store storage.Store, sched Scheduler, jobs JobFactory, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	d := &Dispatcher{
		store: store,
		sched: sched,
		jobs:  jobs,
		bus:   bus,
		log:   log,
		loc:   loc,
		now:   time.Now,
		locks: newKeyedMutex(),
	}
	d.SetFeedback(cfg.Feedback)
	d.SetHelp(cfg.HelpText)
	return d
}

// SetFeedback and SetHelp are safe to call while commands are running.
func (d *Dispatcher) SetFeedback(f Feedback) { d.feedback.Store(ParseFeedback(string(f))) }
func (d *Dispatcher) SetHelp(text string)    { d.help.Store(text) }

func (d *Dispatcher) verbose() bool {
	f, _ := d.feedback.Load().(Feedback)
	return f == FeedbackVerbose
}

// Dispatch applies req and returns what to tell the issuer. It never panics
// on backend failures; storage unavailability becomes a failure reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Reply {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := d.log.With(
		logx.String("request_id", req.ID),
		logx.String("cmd", string(req.Command.Kind)),
		logx.String("owner", req.Owner),
	)

	var (
		reply   Reply
		outcome Outcome
	)
	switch req.Command.Kind {
	case command.KindAdd:
		reply, outcome = d.add(ctx, log, req)
	case command.KindUpdate:
		reply, outcome = d.update(ctx, log, req)
	case command.KindDelete:
		reply, outcome = d.delete(ctx, log, req)
	case command.KindPause:
		reply, outcome = d.setStatus(ctx, log, req, schedule.StatusPaused)
	case command.KindUnpause:
		reply, outcome = d.setStatus(ctx, log, req, schedule.StatusActive)
	case command.KindList:
		reply, outcome = d.list(ctx, log, req)
	case command.KindHelp:
		help, _ := d.help.Load().(string)
		reply, outcome = Reply{Text: help}, OutcomeOK
	default:
		return Reply{}
	}

	d.bus.Publish(eventbus.Event{
		Type: eventbus.CommandHandled,
		Data: eventbus.CommandData{Command: string(req.Command.Kind), Outcome: string(outcome)},
	})
	log.Debug("command handled", logx.String("outcome", string(outcome)))
	return reply
}

func (d *Dispatcher) add(ctx context.Context, log logx.Logger, req Request) (Reply, Outcome) {
	if len(req.Mentions) != 1 {
		log.Info("add rejected: need exactly one recipient", logx.Int("mentions", len(req.Mentions)))
		return d.rejected("Mention exactly one recipient, e.g. add @bob 60 Hello"), OutcomeRejected
	}
	interval, err := command.ParseInterval(req.Command.Interval)
	if err != nil {
		log.Info("add rejected: bad interval", logx.Err(err))
		return d.rejected(userError(err)), OutcomeRejected
	}

	recipient := req.Mentions[0]
	rec := schedule.Record{
		Owner:         req.Owner,
		OwnerName:     req.OwnerName,
		CreatedAt:     schedule.FormatCreatedAt(d.now().In(d.loc)),
		RecipientID:   recipient.IDString(),
		RecipientName: recipient.Name,
		Interval:      interval,
		Body:          req.Command.Body,
		Status:        schedule.StatusActive,
	}
	var channel *kit.Target
	if !req.Private {
		rec.ChannelID = req.Chat.IDString()
		if !rec.DirectDelivery() {
			rec.ThreadID = req.Chat.ThreadID
			ch := req.Chat
			channel = &ch
		}
	}
	id := rec.JobID()
	log = log.With(logx.String("job", id.String()))

	unlock := d.locks.Lock(id)
	defer unlock()

	if err := d.store.Create(ctx, rec); err != nil {
		if errors.Is(err, schedule.ErrStorageUnavailable) {
			log.Error("add failed: storage unavailable", logx.Err(err))
			return Reply{Text: replyUnavailable}, OutcomeError
		}
		if errors.Is(err, schedule.ErrDuplicateKey) {
			log.Warn("add rejected: duplicate key", logx.Err(err))
			return d.rejected("A message was already created this second, try again."), OutcomeRejected
		}
		log.Warn("add rejected", logx.Err(err))
		return d.rejected(userError(err)), OutcomeRejected
	}

	if err := d.sched.Schedule(id, rec.Every(), d.jobs.Job(rec, recipient, channel)); err != nil {
		// The record is durable; the next reconciliation arms it.
		log.Error("add: schedule failed", logx.Err(err))
		return d.rejected("Saved, but the timer could not be started."), OutcomeError
	}
	log.Info("message scheduled",
		logx.String("recipient", rec.RecipientName),
		logx.Int("interval", rec.Interval),
		logx.Bool("direct", channel == nil),
	)
	return d.confirmed(fmt.Sprintf("Scheduled %s: every %ds to %s", rec.CreatedAt, rec.Interval, rec.RecipientName)), OutcomeOK
}

func (d *Dispatcher) update(ctx context.Context, log logx.Logger, req Request) (Reply, Outcome) {
	interval, err := command.ParseInterval(req.Command.Interval)
	if err != nil {
		log.Info("update rejected: bad interval", logx.Err(err))
		return d.rejected(userError(err)), OutcomeRejected
	}
	id := schedule.JobID{Owner: req.Owner, CreatedAt: req.Command.Timestamp}
	log = log.With(logx.String("job", id.String()))

	unlock := d.locks.Lock(id)
	defer unlock()

	changed, err := d.store.SetField(ctx, id.Owner, id.CreatedAt, storage.FieldInterval, interval)
	if err != nil {
		return d.storeFailed(log, err)
	}
	// Issued even when nothing changed: the scheduler may have drifted.
	if err := d.sched.Reschedule(id, time.Duration(interval)*time.Second); err != nil {
		if errors.Is(err, schedule.ErrJobNotFound) {
			log.Debug("reschedule skipped: no timer", logx.Err(err))
		} else {
			log.Warn("reschedule failed; timer keeps its old interval until restart", logx.Err(err))
		}
	}
	if !changed {
		return d.rejected(fmt.Sprintf("Nothing changed for %s", id.CreatedAt)), OutcomeNoop
	}
	log.Info("interval updated", logx.Int("interval", interval))
	return d.confirmed(fmt.Sprintf("Updated %s: every %ds", id.CreatedAt, interval)), OutcomeOK
}

func (d *Dispatcher) delete(ctx context.Context, log logx.Logger, req Request) (Reply, Outcome) {
	id := schedule.JobID{Owner: req.Owner, CreatedAt: req.Command.Timestamp}
	log = log.With(logx.String("job", id.String()))

	unlock := d.locks.Lock(id)
	defer unlock()

	deleted, err := d.store.SoftDelete(ctx, id.Owner, id.CreatedAt)
	// The timer stops whatever the store said.
	removed := d.sched.Remove(id)
	log.Debug("timer removal", logx.Bool("removed", removed))

	if err != nil {
		log.Error("delete failed", logx.Err(err))
		if errors.Is(err, schedule.ErrStorageUnavailable) {
			return Reply{Text: replyUnavailable}, OutcomeError
		}
		return Reply{Text: replyNotFound}, OutcomeError
	}
	if !deleted {
		return Reply{Text: replyNotFound}, OutcomeNoop
	}
	log.Info("message deleted")
	return Reply{Text: replyDeleted}, OutcomeOK
}

func (d *Dispatcher) setStatus(ctx context.Context, log logx.Logger, req Request, status schedule.Status) (Reply, Outcome) {
	id := schedule.JobID{Owner: req.Owner, CreatedAt: req.Command.Timestamp}
	log = log.With(logx.String("job", id.String()), logx.String("status", string(status)))

	unlock := d.locks.Lock(id)
	defer unlock()

	changed, err := d.store.SetField(ctx, id.Owner, id.CreatedAt, storage.FieldStatus, status)
	if err != nil {
		return d.storeFailed(log, err)
	}
	// Issued even when nothing changed: the scheduler may have drifted.
	if status == schedule.StatusPaused {
		err = d.sched.Pause(id)
	} else {
		err = d.sched.Resume(id)
	}
	if err != nil {
		log.Debug("scheduler state unchanged", logx.Err(err))
	}

	verb := "Paused"
	if status == schedule.StatusActive {
		verb = "Resumed"
	}
	if !changed {
		return d.rejected(fmt.Sprintf("Nothing changed for %s", id.CreatedAt)), OutcomeNoop
	}
	log.Info("status changed")
	return d.confirmed(fmt.Sprintf("%s %s", verb, id.CreatedAt)), OutcomeOK
}

func (d *Dispatcher) list(ctx context.Context, log logx.Logger, req Request) (Reply, Outcome) {
	recs, err := d.store.LookupByOwner(ctx, req.Owner)
	if err != nil {
		log.Error("list failed", logx.Err(err))
		return Reply{Text: replyUnavailable}, OutcomeError
	}
	log.Info("listed messages", logx.Int("count", len(recs)))
	return Reply{Text: FormatListing(recs), HTML: true}, OutcomeOK
}

func (d *Dispatcher) storeFailed(log logx.Logger, err error) (Reply, Outcome) {
	if errors.Is(err, schedule.ErrStorageUnavailable) {
		log.Error("storage unavailable", logx.Err(err))
		return Reply{Text: replyUnavailable}, OutcomeError
	}
	log.Warn("store rejected update", logx.Err(err))
	return d.rejected(userError(err)), OutcomeRejected
}

// rejected and confirmed are only shown with verbose feedback.
func (d *Dispatcher) rejected(text string) Reply {
	if !d.verbose() {
		return Reply{}
	}
	return Reply{Text: text}
}

func (d *Dispatcher) confirmed(text string) Reply { return d.rejected(text) }

// userError renders err for a chat reply, with hints on their own lines.
func userError(err error) string {
	msg := err.Error()
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		msg += "\n" + strings.Join(hints, "\n")
	}
	return msg
}
