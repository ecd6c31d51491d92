package model

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExhausted is returned once a Live model has spent its call budget.
var ErrBudgetExhausted = errors.New("model call budget exhausted")

// callBudget counts vendor attempts, so every retry spends from the same
// budget as the call that triggered it. A limit of zero never runs out.
type callBudget struct {
	mu      sync.Mutex
	limit   int
	spent   int
	retries int
}

func newCallBudget(limit int) *callBudget {
	return &callBudget{limit: limit}
}

// spend reserves one attempt. attempt is 1 for the first try of a call.
func (b *callBudget) spend(attempt int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 && b.spent >= b.limit {
		return fmt.Errorf("%w: %d of %d calls used", ErrBudgetExhausted, b.spent, b.limit)
	}
	b.spent++
	if attempt > 1 {
		b.retries++
	}
	return nil
}

func (b *callBudget) usage() (spent, retries int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent, b.retries
}
