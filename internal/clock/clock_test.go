package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestNew(t *testing.T) {
	c := New()

	require.NotNil(t, c)
	assert.Equal(t, uint64(0), c.Last(), "Initial value should be 0")
	assert.NotEmpty(t, c.NodeID(), "NodeID should not be empty")
}

func TestClock_Tick_UsesWallClock(t *testing.T) {
	c := NewWithSource("node", fixedNow(1_700_000_000_000))

	assert.Equal(t, uint64(1_700_000_000_000), c.Tick())
	// Время не сдвинулось: значение всё равно растёт
	assert.Equal(t, uint64(1_700_000_000_001), c.Tick())
	assert.Equal(t, uint64(1_700_000_000_002), c.Tick())
}

func TestClock_Tick_ClockGoesBackwards(t *testing.T) {
	current := int64(5000)
	c := NewWithSource("node", func() time.Time { return time.UnixMilli(current) })

	first := c.Tick()
	current = 1000 // часы системы ушли назад
	second := c.Tick()

	assert.Greater(t, second, first, "Tick must stay monotonic")
}

func TestClock_Observe(t *testing.T) {
	tests := []struct {
		name     string
		observed uint64
		want     uint64
	}{
		{"remote ahead", 9000, 9001},
		{"remote behind", 10, 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewWithSource("node", fixedNow(1000))
			c.Tick() // 1000

			c.Observe(tt.observed)
			assert.Equal(t, tt.want, c.Tick())
		})
	}
}

func TestClock_Tick_Concurrent(t *testing.T) {
	c := NewWithSource("node", fixedNow(1))

	const goroutines = 50
	const ticks = 100

	var mu sync.Mutex
	seen := make(map[uint64]struct{}, goroutines*ticks)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < ticks; j++ {
				v := c.Tick()
				mu.Lock()
				seen[v] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*ticks, "every tick must be unique")
}
