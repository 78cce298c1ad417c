package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func TestClock_Pinned(t *testing.T) {
	clock := NewClock(start)
	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now())
}

func TestClock_AdvanceAndSet(t *testing.T) {
	clock := NewClock(start)

	assert.Equal(t, start.Add(time.Minute), clock.Advance(time.Minute))
	assert.Equal(t, start.Add(time.Minute), clock.Now())

	later := start.Add(48 * time.Hour)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestClock_MethodValue(t *testing.T) {
	clock := NewClock(start)
	var now func() time.Time = clock.Now

	clock.Advance(time.Second)
	assert.Equal(t, start.Add(time.Second), now())
}

func TestClock_Concurrent(t *testing.T) {
	clock := NewClock(start)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(50*time.Millisecond), clock.Now())
}

func TestSequenceGenerator(t *testing.T) {
	gen := NewSequenceGenerator("client", "client-fixed")

	assert.Equal(t, "client-fixed", gen.Generate())
	assert.Equal(t, "client-2", gen.Generate())
	assert.Equal(t, "client-3", gen.Generate())
	assert.Equal(t, 3, gen.Count())

	assert.Equal(t, "test-1", NewSequenceGenerator("").Generate())
}
