package cloud

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayGrowsExponentiallyThenCaps(t *testing.T) {
	a := New(nil, Config{BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond})

	first := a.nextDelay()
	assert.InDelta(t, float64(10*time.Millisecond), float64(first), float64(10*time.Millisecond)*0.21)

	for i := 0; i < 10; i++ {
		a.nextDelay()
	}
	capped := a.nextDelay()
	assert.LessOrEqual(t, capped, a.cfg.MaxDelay+time.Duration(float64(a.cfg.MaxDelay)*0.2))
}

func TestResetBackoffReturnsToBaseDelay(t *testing.T) {
	a := New(nil, Config{BaseDelay: 10 * time.Millisecond, MaxDelay: 1 * time.Second})
	for i := 0; i < 5; i++ {
		a.nextDelay()
	}
	a.resetBackoff()
	d := a.nextDelay()
	assert.InDelta(t, float64(10*time.Millisecond), float64(d), float64(10*time.Millisecond)*0.21)
}

func TestMinInt(t *testing.T) {
	assert.Equal(t, 3, minInt(3, 5))
	assert.Equal(t, 3, minInt(5, 3))
}
