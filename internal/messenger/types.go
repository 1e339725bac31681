package messenger

import (
	"time"

	"remindbot/internal/command"
	"remindbot/internal/schedule"
	"remindbot/internal/scheduler"
	kit "remindbot/internal/transport"
)

// Scheduler is the subset of scheduler.Service the engine drives.
type Scheduler interface {
	Schedule(id schedule.JobID, every time.Duration, fn scheduler.Job) error
	Reschedule(id schedule.JobID, every time.Duration) error
	Pause(id schedule.JobID) error
	Resume(id schedule.JobID) error
	Remove(id schedule.JobID) bool
}

// JobFactory builds the fire callback for a record. delivery.Invoker
// implements it.
type JobFactory interface {
	Job(rec schedule.Record, recipient kit.Target, channel *kit.Target) scheduler.Job
}

// Feedback selects whether add/update/pause/unpause answer the issuer.
type Feedback string

const (
	// FeedbackSilent answers only delete, list, help and storage failures.
	FeedbackSilent Feedback = "silent"
	// FeedbackVerbose also confirms or rejects add, update, pause and unpause.
	FeedbackVerbose Feedback = "verbose"
)

func ParseFeedback(s string) Feedback {
	if Feedback(s) == FeedbackVerbose {
		return FeedbackVerbose
	}
	return FeedbackSilent
}

// Request is one command from one user.
type Request struct {
	ID string // generated when empty

	Owner     string
	OwnerName string

	// Chat is where the command was issued. A command from a private chat
	// stores no channel, so its messages are delivered directly.
	Chat    kit.Target
	Private bool

	Mentions []kit.Target
	Command  command.Command
}

// Reply is the answer to the issuer. An empty Text means stay silent.
type Reply struct {
	Text string
	HTML bool
}

func (r Reply) Empty() bool { return r.Text == "" }

// Outcome labels how a command ended, for logs and metrics.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeNoop     Outcome = "noop"
	OutcomeRejected Outcome = "rejected"
	OutcomeError    Outcome = "error"
)

type clock func() time.Time
