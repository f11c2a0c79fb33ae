package broadcast

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := New[int]()
	a := b.Subscribe(4)
	c := b.Subscribe(4)
	require.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, 2, b.Len())

	assert.Equal(t, 2, b.Publish(1))
	assert.Equal(t, 1, <-a.C)
	assert.Equal(t, 1, <-c.C)
}

func TestBroadcaster_DropsWhenFull(t *testing.T) {
	b := New[string]()
	slow := b.Subscribe(1)
	fast := b.Subscribe(8)

	b.Publish("a")
	b.Publish("b")
	b.Publish("c")

	assert.Equal(t, int64(2), slow.Dropped())
	assert.Equal(t, int64(0), fast.Dropped())
	assert.Equal(t, "a", <-slow.C)
	assert.Len(t, fast.C, 3)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe(1)
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, b.Publish(1))
	assert.Zero(t, b.Len())
}

func TestBroadcaster_Close(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe(1)
	b.Close()
	b.Close()

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, b.Publish(1))

	late := b.Subscribe(1)
	_, ok = <-late.C
	assert.False(t, ok)
	b.Unsubscribe(late)
}

func TestBroadcaster_ConcurrentPublish(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(n)
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, sub.C, 500)
}
