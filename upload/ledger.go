package upload

import (
	"context"
	"fmt"
	"sync"
)

// Ledger tracks the number of outstanding part tasks and the bytes they hold.
// The reader consults it before every read so that in-flight memory stays near the limit.
type Ledger struct {
	limit int64

	mu      sync.Mutex
	active  int64
	tasks   int
	peak    int64
	settled chan struct{}
}

// NewLedger creates a Ledger with the given in-flight byte limit.
func NewLedger(limit int64) *Ledger {
	return &Ledger{
		limit:   limit,
		settled: make(chan struct{}),
	}
}

// Admit records a dispatched task holding n bytes.
func (l *Ledger) Admit(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active += n
	l.tasks++
	if l.active > l.peak {
		l.peak = l.active
	}
}

// Release records a settled task and wakes every waiter.
func (l *Ledger) Release(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active -= n
	l.tasks--
	if l.active < 0 || l.tasks < 0 {
		panic(fmt.Sprintf("ledger underflow: active bytes %d, tasks %d", l.active, l.tasks))
	}

	close(l.settled)
	l.settled = make(chan struct{})
}

// OverBudget reports whether the in-flight bytes reached the limit.
func (l *Ledger) OverBudget() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active >= l.limit
}

// WaitBelowLimit blocks until the in-flight bytes drop below the limit or the context is done.
// The condition is re-checked after every settlement.
func (l *Ledger) WaitBelowLimit(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.active < l.limit {
			l.mu.Unlock()
			return nil
		}
		settled := l.settled
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-settled:
		}
	}
}

// Active returns the bytes currently held by unsettled tasks.
func (l *Ledger) Active() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Tasks returns the number of unsettled tasks.
func (l *Ledger) Tasks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tasks
}

// Peak returns the highest in-flight byte count observed.
func (l *Ledger) Peak() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}
