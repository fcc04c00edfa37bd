package backfill

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeWindowFirstRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	// No recorded check: clamp to the full lookback.
	w := ComputeWindow(nil, 30, now)
	assert.Equal(t, now.AddDate(0, 0, -30), w.From)
	assert.Equal(t, now, w.To)
}

func TestComputeWindowRecentCheck(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	lastCheck := now.AddDate(0, 0, -5)

	w := ComputeWindow(&lastCheck, 30, now)
	assert.Equal(t, lastCheck, w.From)
	assert.Equal(t, now, w.To)
}

func TestComputeWindowClampsLongOutage(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	lastCheck := now.AddDate(0, 0, -45)

	// A 45-day outage still fetches at most 30 days.
	w := ComputeWindow(&lastCheck, 30, now)
	assert.Equal(t, now.AddDate(0, 0, -30), w.From)
	assert.Equal(t, now, w.To)
}

func TestWindowSpan(t *testing.T) {
	now := time.Now()
	lastCheck := now.Add(-2 * time.Minute)

	w := ComputeWindow(&lastCheck, 30, now)
	assert.Equal(t, 2*time.Minute, w.Span())
}
