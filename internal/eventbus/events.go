package eventbus

import "time"

// Event types published by the engine.
const (
	DeliverySent   = "delivery.sent"
	DeliveryFailed = "delivery.failed"

	CommandHandled = "command.handled"

	ReconcileRecord = "reconcile.record"
	ReconcileDone   = "reconcile.done"
)

// DeliveryData accompanies DeliverySent and DeliveryFailed.
type DeliveryData struct {
	Job     string
	Channel bool
	Took    time.Duration
	Err     string
}

// CommandData accompanies CommandHandled. Outcome is "ok", "noop",
// "rejected" or "error".
type CommandData struct {
	Command string
	Outcome string
}

// ReconcileData accompanies ReconcileRecord. Result is "armed", "paused"
// or "skipped".
type ReconcileData struct {
	Job    string
	Result string
}
