package clock_test

import (
	"testing"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestRealNowUsesUTC(t *testing.T) {
	now := clock.Real{}.Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, time.Now(), now, time.Second)
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m := clock.NewManual(start)

	assert.Equal(t, start, m.Now())
	assert.Equal(t, start.Add(90*time.Second), m.Advance(90*time.Second))

	// negative durations never move time backwards
	assert.Equal(t, start.Add(90*time.Second), m.Advance(-time.Hour))
	assert.Equal(t, start.Add(90*time.Second).UnixMilli(), clock.UnixMilli(m))
}
