package messenger

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"remindbot/internal/eventbus"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Report summarizes one reconciliation pass.
type Report struct {
	Armed   int
	Paused  int
	Skipped int
	Took    time.Duration
}

// Reconciler rebuilds scheduler state from the store. Run it once, after
// the transport is ready and before any command is dispatched.
type Reconciler struct {
	store    storage.Store
	resolver kit.Resolver
	sched    Scheduler
	jobs     JobFactory
	bus      eventbus.Bus
	log      logx.Logger
}

func NewReconciler(store storage.Store, resolver kit.Resolver, sched Scheduler, jobs JobFactory, bus eventbus.Bus, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Reconciler{store: store, resolver: resolver, sched: sched, jobs: jobs, bus: bus, log: log}
}

// Run registers a timer for every non-deleted record and pauses the ones
// stored as Paused. A record whose recipient or channel cannot be resolved
// is logged and skipped. A storage error aborts the pass.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	var rep Report
	for rec, err := range r.store.ScanAll(ctx) {
		if err != nil {
			rep.Took = time.Since(start)
			return rep, errors.Wrap(err, "reconcile")
		}
		result := r.restore(ctx, rec)
		switch result {
		case "armed":
			rep.Armed++
		case "paused":
			rep.Paused++
		default:
			rep.Skipped++
		}
		r.bus.Publish(eventbus.Event{
			Type: eventbus.ReconcileRecord,
			Data: eventbus.ReconcileData{Job: rec.JobID().String(), Result: result},
		})
	}
	rep.Took = time.Since(start)
	r.bus.Publish(eventbus.Event{Type: eventbus.ReconcileDone, Data: rep})
	r.log.Info("reconciled",
		logx.Int("armed", rep.Armed),
		logx.Int("paused", rep.Paused),
		logx.Int("skipped", rep.Skipped),
		logx.Duration("took", rep.Took),
	)
	return rep, nil
}

func (r *Reconciler) restore(ctx context.Context, rec schedule.Record) string {
	id := rec.JobID()
	log := r.log.With(logx.String("job", id.String()))

	recipient, err := r.resolver.ResolveUser(ctx, rec.RecipientID)
	if err != nil {
		log.Warn("skip record: recipient unresolved", logx.String("recipient_id", rec.RecipientID), logx.Err(err))
		return "skipped"
	}
	var channel *kit.Target
	if !rec.DirectDelivery() {
		ch, err := r.resolver.ResolveChannel(ctx, rec.ChannelID)
		if err != nil {
			log.Warn("skip record: channel unresolved", logx.String("channel_id", rec.ChannelID), logx.Err(err))
			return "skipped"
		}
		ch.ThreadID = rec.ThreadID
		channel = &ch
	}

	if err := r.sched.Schedule(id, rec.Every(), r.jobs.Job(rec, recipient, channel)); err != nil {
		log.Warn("skip record: schedule failed", logx.Err(err))
		return "skipped"
	}
	if rec.Status == schedule.StatusPaused {
		if err := r.sched.Pause(id); err != nil {
			log.Warn("pause after restore failed", logx.Err(err))
			return "armed"
		}
		return "paused"
	}
	return "armed"
}
