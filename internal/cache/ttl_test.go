package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTL_Expiry(t *testing.T) {
	now := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	c := NewTTL[int64, float64](time.Minute).WithClock(func() time.Time { return now })

	c.Set(1, 4.5)
	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 4.5, v)

	now = now.Add(59 * time.Second)
	_, ok = c.Get(1)
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTL_Purge(t *testing.T) {
	now := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	c := NewTTL[string, int](time.Minute).WithClock(func() time.Time { return now })
	c.Set("a", 1)
	now = now.Add(30 * time.Second)
	c.Set("b", 2)
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, c.Purge())
	_, ok := c.Get("b")
	assert.True(t, ok)

	c.Delete("b")
	assert.Equal(t, 0, c.Len())
}

func TestTTL_Concurrent(t *testing.T) {
	c := NewTTL[int, int](time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set(i%5, i)
			c.Get(i % 5)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())
}
