// internal/clock/clock_test.go
package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTodayTruncatesToUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	c := NewManual(time.Date(2024, 3, 10, 7, 30, 0, 0, loc))

	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), Today(c))
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)

	c.AddDays(1)
	assert.Equal(t, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), c.Now())

	c.Advance(13 * time.Hour)
	assert.Equal(t, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), Today(c))
}
