package schedule

import "github.com/cockroachdb/errors"

var (
	// ErrDuplicateKey means a record with the same (owner, createdAt) exists.
	ErrDuplicateKey = errors.New("schedule: duplicate key")

	// ErrJobNotFound is returned by scheduler mutations on an unknown identity.
	ErrJobNotFound = errors.New("schedule: job not found")

	// ErrStorageUnavailable wraps connectivity and backing-store failures.
	ErrStorageUnavailable = errors.New("schedule: storage unavailable")

	// ErrRecipientUnresolved means the transport could not resolve a user or channel.
	ErrRecipientUnresolved = errors.New("schedule: recipient unresolved")

	// ErrConditionalUpdateMissed signals that a conditional update changed nothing.
	// Stores report it as a false result; callers that need an error use this.
	ErrConditionalUpdateMissed = errors.New("schedule: conditional update missed")

	ErrInvalidRecord = errors.New("schedule: invalid record")
)

// Unavailable wraps err as a storage failure, keeping the original cause.
func Unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, "storage %s", op), ErrStorageUnavailable)
}
