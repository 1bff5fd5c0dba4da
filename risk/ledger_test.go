package risk

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerReserveRelease(t *testing.T) {
	t.Parallel()

	l, err := NewLedger(10)
	assert.NoError(t, err)

	assert.NoError(t, l.Reserve(4))
	assert.Equal(t, 6.0, l.Available())
	assert.Equal(t, 4.0, l.Committed())

	assert.NoError(t, l.Release(4))
	assert.Equal(t, 10.0, l.Available())
	assert.Equal(t, 0.0, l.Committed())
}

func TestLedgerInsufficientBudget(t *testing.T) {
	t.Parallel()

	l, err := NewLedger(10)
	assert.NoError(t, err)

	assert.NoError(t, l.Reserve(5))
	assert.NoError(t, l.Reserve(5))

	err = l.Reserve(0.01)
	assert.ErrorIs(t, err, ErrInsufficientBudget)
	assert.Equal(t, 10.0, l.Committed())
}

func TestLedgerRejectsBadAmounts(t *testing.T) {
	t.Parallel()

	_, err := NewLedger(0)
	assert.Error(t, err)

	l, err := NewLedger(1)
	assert.NoError(t, err)
	assert.Error(t, l.Reserve(0))
	assert.Error(t, l.Reserve(-1))
	assert.Error(t, l.Release(-1))
}

func TestLedgerOverReleaseIsCorruption(t *testing.T) {
	t.Parallel()

	l, err := NewLedger(10)
	assert.NoError(t, err)
	assert.NoError(t, l.Reserve(2))

	err = l.Release(3)
	assert.ErrorIs(t, err, ErrLedgerCorrupt)
	// The failed release must not mutate state.
	assert.Equal(t, 2.0, l.Committed())
}

// Committed capital must never exceed total or go negative under
// concurrent reserve/release pressure.
func TestLedgerConcurrentReserveRelease(t *testing.T) {
	t.Parallel()

	l, err := NewLedger(100)
	assert.NoError(t, err)

	const workers = 16
	const rounds = 200

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				if err := l.Reserve(9); err != nil {
					assert.True(t, errors.Is(err, ErrInsufficientBudget))
					continue
				}
				avail := l.Available()
				assert.GreaterOrEqual(t, avail, 0.0)
				assert.LessOrEqual(t, l.Committed(), 100.0)
				assert.NoError(t, l.Release(9))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0.0, l.Committed())
	assert.Equal(t, 100.0, l.Available())
}

// Only as many concurrent reservations succeed as actually fit.
func TestLedgerConcurrentReserveCapacity(t *testing.T) {
	t.Parallel()

	l, err := NewLedger(10)
	assert.NoError(t, err)

	const workers = 8
	results := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.Reserve(5)
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientBudget)
			rejected++
		}
	}

	assert.Equal(t, 2, ok)
	assert.Equal(t, workers-2, rejected)
	assert.Equal(t, 10.0, l.Committed())
}
