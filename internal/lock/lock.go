// Package lock guards against two reversals of the same payment running at
// once. A lock is held for the duration of one refund request and expires on
// its own if the holder dies.
package lock

import (
	stdcontext "context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/payment-gateway/internal/adapter"
)

// DefaultTTL bounds how long a lock survives a holder that never releases it.
const DefaultTTL = 60 * time.Second

// ErrLocked is returned by Acquire when the key is already held.
var ErrLocked = errors.New("lock is already held")

// Release gives a lock back. It is safe to call more than once.
type Release func()

// Locker hands out exclusive, expiring locks by key.
type Locker interface {
	Acquire(ctx stdcontext.Context, key string) (Release, error)
}

// RefundKey names the lock for refunds of one payment transaction.
func RefundKey(gt adapter.GatewayType, paymentTransactionID string) string {
	return fmt.Sprintf("refund:%d:%s", int(gt), paymentTransactionID)
}

// MemoryLocker keeps locks in process memory. It only protects a single
// server instance.
type MemoryLocker struct {
	mu   sync.Mutex
	ttl  time.Duration
	held map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// NewMemoryLocker creates a MemoryLocker. A non-positive ttl takes DefaultTTL.
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLocker{ttl: ttl, held: make(map[string]memoryEntry), now: time.Now}
}

// Acquire takes key or returns ErrLocked.
func (l *MemoryLocker) Acquire(_ stdcontext.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expiresAt) {
		return nil, ErrLocked
	}
	token := uuid.NewString()
	l.held[key] = memoryEntry{token: token, expiresAt: now.Add(l.ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// an expired lock may have been taken over; leave the new holder alone
			if e, ok := l.held[key]; ok && e.token == token {
				delete(l.held, key)
			}
		})
	}, nil
}
