package resilience

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ErrBreakerOpen is returned once a Breaker has seen too many consecutive
// failures.
var ErrBreakerOpen = eris.New("resilience: too many consecutive failures")

// Breaker counts consecutive failures and opens at a threshold. An open
// breaker stays open until Reset. A zero threshold never opens.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	consecutive int
	open        bool
}

// NewBreaker creates a breaker that opens after threshold failures in a row.
func NewBreaker(threshold int) *Breaker {
	return &Breaker{threshold: threshold}
}

// Record notes the outcome of one operation and returns ErrBreakerOpen when
// this failure opened the breaker or it was already open.
func (b *Breaker) Record(failed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		return ErrBreakerOpen
	}
	if !failed {
		b.consecutive = 0
		return nil
	}
	b.consecutive++
	if b.threshold > 0 && b.consecutive >= b.threshold {
		b.open = true
		return ErrBreakerOpen
	}
	return nil
}

// Consecutive returns the current run of failures.
func (b *Breaker) Consecutive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}

// Open reports whether the breaker has tripped.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Reset closes the breaker and clears the count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.consecutive = 0
}
