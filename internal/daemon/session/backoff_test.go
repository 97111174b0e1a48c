package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: 30 * time.Second}

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		assert.Equal(t, w*time.Second, b.Next(), "attempt %d", i+1)
	}
	assert.Equal(t, 7, b.Attempt())

	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffWithinJitterBounds(t *testing.T) {
	const (
		d = 500 * time.Millisecond
		c = 20 * time.Second
	)

	for run := 0; run < 20; run++ {
		b := &Backoff{Initial: d, Max: c, Jitter: 0.2}
		for n := 1; n <= 10; n++ {
			base := d * time.Duration(1<<(n-1))
			if base > c {
				base = c
			}
			got := b.Next()
			lo := time.Duration(float64(base) * 0.8)
			hi := time.Duration(float64(base) * 1.2)
			assert.GreaterOrEqual(t, got, lo-time.Nanosecond, "attempt %d", n)
			assert.LessOrEqual(t, got, hi+time.Nanosecond, "attempt %d", n)
		}
	}
}

func TestBackoffNeverGivesUp(t *testing.T) {
	b := &Backoff{Initial: time.Millisecond, Max: time.Millisecond}
	for i := 0; i < 1000; i++ {
		assert.Equal(t, time.Millisecond, b.Next())
	}
}
