package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sandroneterpone/ye-meme-trader/config"
)

// `trader history` must read the same journal DB that `trader run`
// writes to by default.
func TestHistoryDBDefaultMatchesRun(t *testing.T) {
	f := historyCmd.PersistentFlags().Lookup("db")
	assert.NotNil(t, f)
	assert.Equal(t, config.Default().Journal.DBPath, f.DefValue)
	assert.Equal(t, "trader.db", f.DefValue)
}

func TestDayBounds(t *testing.T) {
	start, end, err := dayBounds(time.UTC, "2026-08-29")
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, start.Add(24*time.Hour), end)

	_, _, err = dayBounds(time.UTC, "yesterday")
	assert.Error(t, err)
}
