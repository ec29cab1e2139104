package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caseforge/caseforge/caseforge/economy"
	"github.com/caseforge/caseforge/caseforge/economy/ledger"
)

const (
	defaultAcquireWait = 3 * time.Second
	// A hold must outlast the worst-case retry budget of one operation,
	// otherwise a second same-user operation could take over the lock while
	// the first is still inside its final transaction attempt.
	defaultHoldTimeout = maxTxAttempts*ledger.DefaultTxTimeout + 10*time.Second
	lockPollInterval   = 5 * time.Millisecond
)

// LockManager serializes economic operations per user. Operations on
// different users never contend; a second operation on the same user waits
// up to acquireWait and then fails with ConcurrencyConflict. Holds expire
// after holdTimeout so a crashed holder cannot wedge a user forever.
type LockManager struct {
	held        sync.Map // userID -> hold expiry (time.Time)
	acquireWait time.Duration
	holdTimeout time.Duration
}

func NewLockManager() *LockManager {
	return &LockManager{
		acquireWait: defaultAcquireWait,
		holdTimeout: defaultHoldTimeout,
	}
}

// TryAcquire attempts to take the user's lock without waiting.
func (m *LockManager) TryAcquire(userID string) bool {
	now := time.Now()
	expiry := now.Add(m.holdTimeout)

	prev, loaded := m.held.LoadOrStore(userID, expiry)
	if !loaded {
		return true
	}

	// Take over expired holds.
	if now.After(prev.(time.Time)) {
		return m.held.CompareAndSwap(userID, prev, expiry)
	}
	return false
}

// Acquire takes the user's lock, polling until acquireWait elapses or ctx
// is done. Contention surfaces as a retryable ConcurrencyConflict.
func (m *LockManager) Acquire(ctx context.Context, userID string) error {
	if m.TryAcquire(userID) {
		return nil
	}

	deadline := time.Now().Add(m.acquireWait)
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", economy.ErrConcurrencyConflict, ctx.Err())
		case <-ticker.C:
			if m.TryAcquire(userID) {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: user %s is locked", economy.ErrConcurrencyConflict, userID)
			}
		}
	}
}

func (m *LockManager) Release(userID string) {
	m.held.Delete(userID)
}

// StartCleanupRoutine periodically drops expired hold entries so the map
// does not grow with every user ever seen.
func (m *LockManager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				m.held.Range(func(key, value interface{}) bool {
					if now.After(value.(time.Time)) {
						m.held.CompareAndDelete(key, value)
					}
					return true
				})
			}
		}
	}()
}
