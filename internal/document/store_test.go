package document

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PerSessionSlots(t *testing.T) {
	s := NewStore()

	_, ok := s.Peek("a")
	assert.False(t, ok)

	s.Put("a", Document{Text: "alpha"})
	s.Put("b", Document{Text: "beta"})
	s.Put("a", Document{Text: "alpha v2"})

	d, ok := s.Peek("a")
	assert.True(t, ok)
	assert.Equal(t, "alpha v2", d.Text)

	d, _ = s.Peek("b")
	assert.Equal(t, "beta", d.Text)

	s.Clear("a")
	_, ok = s.Peek("a")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	s.Clear("missing")
}

func TestStore_Concurrent(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i%5))
			s.Put(id, Document{Text: id})
			d, _ := s.Peek(id)
			assert.Equal(t, id, d.Text)
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, s.Len())
}

func TestStore_EvictIdle(t *testing.T) {
	s := NewStore()
	s.Put("a", Document{Text: "alpha"})
	s.Put("b", Document{Text: "beta"})

	later := time.Now().Add(2 * time.Hour)
	assert.Empty(t, s.EvictIdle(3*time.Hour, later))
	assert.Empty(t, s.EvictIdle(0, later), "zero timeout never evicts")
	assert.Equal(t, 2, s.Len())

	// Sessions that expire without a logout never call Clear.
	assert.ElementsMatch(t, []string{"a", "b"}, s.EvictIdle(time.Hour, later))
	assert.Equal(t, 0, s.Len())

	s.Touch("missing")
	assert.Equal(t, 0, s.Len())
}

func TestStore_TouchKeepsSlot(t *testing.T) {
	s := NewStore()
	s.Put("a", Document{Text: "alpha"})
	s.Put("b", Document{Text: "beta"})

	s.mu.Lock()
	s.slots["a"].lastAccess = time.Now().Add(-2 * time.Hour)
	s.slots["b"].lastAccess = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	s.Touch("b")
	assert.Equal(t, []string{"a"}, s.EvictIdle(time.Hour, time.Now()))

	_, ok := s.Peek("a")
	assert.False(t, ok)
	d, ok := s.Peek("b")
	require.True(t, ok)
	assert.Equal(t, "beta", d.Text)
}

func TestStore_RunEviction(t *testing.T) {
	s := NewStore()
	s.Put("a", Document{Text: "alpha"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var mu sync.Mutex
	var evicted []string
	go func() {
		defer close(done)
		s.RunEviction(ctx, time.Millisecond, 5*time.Millisecond, func(ids []string) {
			mu.Lock()
			evicted = append(evicted, ids...)
			mu.Unlock()
		})
	}()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	assert.Equal(t, []string{"a"}, evicted)
	mu.Unlock()
}

func TestStore_RunEvictionDisabled(t *testing.T) {
	s := NewStore()
	// Returns immediately without a timeout.
	s.RunEviction(context.Background(), 0, time.Millisecond, nil)
}
