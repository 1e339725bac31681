// Package metrics exports engine activity as Prometheus metrics.
//
// The Collector consumes the event bus, so instrumented packages never import
// Prometheus. Job gauges are sampled from the scheduler on scrape.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

const namespace = "remindbot"

// JobCounter reports live scheduler registrations.
type JobCounter interface {
	Counts() (armed, paused int)
}

type Collector struct {
	reg *prometheus.Registry
	log logx.Logger

	deliveries       *prometheus.CounterVec
	deliveryDuration prometheus.Histogram
	commands         *prometheus.CounterVec
	reconcile        *prometheus.CounterVec
}

// New builds a collector with its own registry. jobs may be nil.
func New(jobs JobCounter, log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Collector{
		reg: prometheus.NewRegistry(),
		log: log,
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Scheduled message deliveries by result",
			},
			[]string{"result"},
		),
		deliveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Time spent sending one scheduled message",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Chat commands handled by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		reconcile: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_records_total",
				Help:      "Records seen by startup reconciliation by result",
			},
			[]string{"result"},
		),
	}

	c.reg.MustRegister(
		c.deliveries,
		c.deliveryDuration,
		c.commands,
		c.reconcile,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if jobs != nil {
		c.reg.MustRegister(newJobsCollector(jobs))
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	c.Consume(ctx, ch)
}

// Consume observes events from an existing subscription, so callers can
// subscribe before the first event is published.
func (c *Collector) Consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}

// Observe records one event.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.DeliverySent, eventbus.DeliveryFailed:
		result := "sent"
		if e.Type == eventbus.DeliveryFailed {
			result = "failed"
		}
		c.deliveries.WithLabelValues(result).Inc()
		if d, ok := e.Data.(eventbus.DeliveryData); ok {
			c.deliveryDuration.Observe(d.Took.Seconds())
		}
	case eventbus.CommandHandled:
		if d, ok := e.Data.(eventbus.CommandData); ok {
			c.commands.WithLabelValues(d.Command, d.Outcome).Inc()
		}
	case eventbus.ReconcileRecord:
		if d, ok := e.Data.(eventbus.ReconcileData); ok {
			c.reconcile.WithLabelValues(d.Result).Inc()
		}
	}
}

// jobsCollector samples scheduler state at scrape time.
type jobsCollector struct {
	jobs JobCounter
	desc *prometheus.Desc
}

func newJobsCollector(jobs JobCounter) *jobsCollector {
	return &jobsCollector{
		jobs: jobs,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "jobs"),
			"Live scheduler registrations by state",
			[]string{"state"}, nil,
		),
	}
}

func (j *jobsCollector) Describe(ch chan<- *prometheus.Desc) { ch <- j.desc }

func (j *jobsCollector) Collect(ch chan<- prometheus.Metric) {
	armed, paused := j.jobs.Counts()
	ch <- prometheus.MustNewConstMetric(j.desc, prometheus.GaugeValue, float64(armed), "armed")
	ch <- prometheus.MustNewConstMetric(j.desc, prometheus.GaugeValue, float64(paused), "paused")
}
