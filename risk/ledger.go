package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrInsufficientBudget is returned by Reserve when the requested
	// amount does not fit in the uncommitted balance.
	ErrInsufficientBudget = errors.New("insufficient budget")

	// ErrLedgerCorrupt means committed capital went outside [0, total].
	// This is a logic error, not a market condition: the engine must
	// halt when it sees it.
	ErrLedgerCorrupt = errors.New("budget ledger corrupt")
)

// Ledger tracks total capital and the portion committed to open
// positions. All mutations hold the mutex for the full compound
// operation, so two concurrent reservations can never both succeed
// when only one would fit.
type Ledger struct {
	mu        sync.Mutex
	total     float64
	committed float64
}

// LedgerSnapshot is a consistent read of the ledger for reporting
// and persistence.
type LedgerSnapshot struct {
	Total     float64
	Committed float64
	Available float64
	Time      time.Time
}

func NewLedger(total float64) (*Ledger, error) {
	if total <= 0 {
		return nil, fmt.Errorf("ledger total must be positive, got %v", total)
	}
	return &Ledger{total: total}, nil
}

// Reserve commits amount from the available balance.
func (l *Ledger) Reserve(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("reserve amount must be positive, got %v", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.committed+amount > l.total {
		return fmt.Errorf("%w: need %.6f, available %.6f",
			ErrInsufficientBudget, amount, l.total-l.committed)
	}
	l.committed += amount
	return nil
}

// Release returns amount to the available balance. The caller (the
// position state machine) guarantees each reservation is released at
// most once; the ledger only guards against going negative.
func (l *Ledger) Release(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("release amount must be positive, got %v", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.committed {
		return fmt.Errorf("%w: release %.6f exceeds committed %.6f",
			ErrLedgerCorrupt, amount, l.committed)
	}
	l.committed -= amount
	return nil
}

func (l *Ledger) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total - l.committed
}

func (l *Ledger) Committed() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed
}

func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *Ledger) Snapshot() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LedgerSnapshot{
		Total:     l.total,
		Committed: l.committed,
		Available: l.total - l.committed,
		Time:      time.Now().UTC(),
	}
}
