package sessions

import (
	"context"
	"errors"
	"sync"
)

// ErrLockTimeout is returned when acquiring a session's turn lock times out
// or the caller's context is cancelled first.
var ErrLockTimeout = errors.New("sessions: turn lock acquisition timed out")

// TurnLocker serializes run_turn calls per session (spec §5): two inbound
// messages on the same session queue behind this lock and never interleave
// in the message log. Locks are created lazily and never removed, which is
// acceptable because the number of distinct sessions is bounded by the
// number of channel scopes in active use, not by request volume.
type TurnLocker struct {
	locks sync.Map // map[string]*sync.Mutex
}

// NewTurnLocker creates an empty TurnLocker.
func NewTurnLocker() *TurnLocker {
	return &TurnLocker{}
}

func (l *TurnLocker) mutexFor(sessionID string) *sync.Mutex {
	m, _ := l.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Lock blocks until the session's turn lock is acquired or ctx is done,
// whichever comes first. The returned unlock func must be called exactly
// once to release the lock.
func (l *TurnLocker) Lock(ctx context.Context, sessionID string) (unlock func(), err error) {
	mu := l.mutexFor(sessionID)

	acquired := make(chan struct{})
	go func() {
		mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return mu.Unlock, nil
	case <-ctx.Done():
		// The goroutine above may still acquire the lock later; unlock it
		// immediately when it does so the mutex isn't held forever.
		go func() {
			<-acquired
			mu.Unlock()
		}()
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}
}
