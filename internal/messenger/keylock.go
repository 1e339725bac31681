package messenger

import (
	"sync"

	"remindbot/internal/schedule"
)

// keyedMutex serializes work per JobID. Entries are reference counted and
// dropped when unused, so the map only holds identities in flight.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[schedule.JobID]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[schedule.JobID]*keyLock{}}
}

// Lock blocks until id is free and returns its unlock func.
func (k *keyedMutex) Lock(id schedule.JobID) (unlock func()) {
	k.mu.Lock()
	l := k.locks[id]
	if l == nil {
		l = &keyLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
