package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caseforge/caseforge/caseforge/economy"
	"github.com/caseforge/caseforge/caseforge/economy/ledger"
)

func TestLockManager_TryAcquire(t *testing.T) {
	m := NewLockManager()

	if !m.TryAcquire("user-1") {
		t.Fatal("first TryAcquire should succeed")
	}
	if m.TryAcquire("user-1") {
		t.Fatal("second TryAcquire on a held lock should fail")
	}

	m.Release("user-1")
	if !m.TryAcquire("user-1") {
		t.Fatal("TryAcquire after Release should succeed")
	}
}

func TestLockManager_UsersAreIndependent(t *testing.T) {
	m := NewLockManager()

	if !m.TryAcquire("user-1") {
		t.Fatal("TryAcquire(user-1) should succeed")
	}
	if !m.TryAcquire("user-2") {
		t.Fatal("a different user must not contend")
	}
}

func TestLockManager_ConcurrentSingleWinner(t *testing.T) {
	m := NewLockManager()

	const n = 64
	var wg sync.WaitGroup
	var winners atomic.Int32

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if m.TryAcquire("user-1") {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Errorf("winners = %d, want exactly 1", got)
	}
}

func TestLockManager_AcquireWaitsForRelease(t *testing.T) {
	m := &LockManager{acquireWait: 500 * time.Millisecond, holdTimeout: time.Minute}

	if !m.TryAcquire("user-1") {
		t.Fatal("TryAcquire should succeed")
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Release("user-1")
	}()

	if err := m.Acquire(context.Background(), "user-1"); err != nil {
		t.Fatalf("Acquire() error = %v, want nil after release", err)
	}
}

func TestLockManager_AcquireTimesOut(t *testing.T) {
	m := &LockManager{acquireWait: 30 * time.Millisecond, holdTimeout: time.Minute}

	if !m.TryAcquire("user-1") {
		t.Fatal("TryAcquire should succeed")
	}

	err := m.Acquire(context.Background(), "user-1")
	if !errors.Is(err, economy.ErrConcurrencyConflict) {
		t.Errorf("Acquire() error = %v, want ErrConcurrencyConflict", err)
	}
}

func TestLockManager_AcquireHonorsContext(t *testing.T) {
	m := &LockManager{acquireWait: time.Minute, holdTimeout: time.Minute}

	if !m.TryAcquire("user-1") {
		t.Fatal("TryAcquire should succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Acquire(ctx, "user-1")
	if !errors.Is(err, economy.ErrConcurrencyConflict) {
		t.Errorf("Acquire() error = %v, want ErrConcurrencyConflict", err)
	}
}

func TestLockManager_ExpiredHoldIsTakenOver(t *testing.T) {
	m := &LockManager{acquireWait: time.Minute, holdTimeout: 10 * time.Millisecond}

	if !m.TryAcquire("user-1") {
		t.Fatal("TryAcquire should succeed")
	}

	time.Sleep(20 * time.Millisecond)
	if !m.TryAcquire("user-1") {
		t.Error("an expired hold should be taken over")
	}
}

func TestLockManager_HoldOutlastsRetryBudget(t *testing.T) {
	worst := time.Duration(maxTxAttempts) * ledger.DefaultTxTimeout
	for attempt := 0; attempt < maxTxAttempts-1; attempt++ {
		worst += retryBackoff << attempt
	}
	if defaultHoldTimeout <= worst {
		t.Errorf("hold timeout %v must exceed the worst-case retry budget %v", defaultHoldTimeout, worst)
	}
}
