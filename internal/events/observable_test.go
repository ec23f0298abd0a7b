package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](ch chan T) []T {
	var out []T
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestNewObservable(t *testing.T) {
	o := NewObservable[string](false)
	require.NotNil(t, o)
	assert.Equal(t, 0, o.ListenerCount())
	_, ok := o.Latest()
	assert.False(t, ok)
}

func TestObservable_PublishAndUnregister(t *testing.T) {
	o := NewObservable[string](false)
	ch := make(chan string, 10)
	unregister := o.Listen(ch)
	assert.Equal(t, 1, o.ListenerCount())

	o.Publish("a")
	o.Publish("b")
	assert.Equal(t, []string{"a", "b"}, drain(ch))

	unregister()
	assert.Equal(t, 0, o.ListenerCount())
	o.Publish("c")
	assert.Empty(t, drain(ch))

	latest, ok := o.Latest()
	assert.True(t, ok)
	assert.Equal(t, "c", latest)
}

func TestObservable_ReplayLatest(t *testing.T) {
	o := NewObservable[int](true)
	early := make(chan int, 1)
	o.Listen(early)
	assert.Empty(t, drain(early), "nothing published yet")

	o.Publish(1)
	o.Publish(2)
	late := make(chan int, 5)
	o.Listen(late)
	assert.Equal(t, []int{2}, drain(late))
}

func TestObservable_NoReplay(t *testing.T) {
	o := NewObservable[int](false)
	o.Publish(7)
	ch := make(chan int, 5)
	o.Listen(ch)
	assert.Empty(t, drain(ch))
}

func TestObservableWithValue(t *testing.T) {
	o := NewObservableWithValue("seed")
	ch := make(chan string, 1)
	o.Listen(ch)
	assert.Equal(t, []string{"seed"}, drain(ch))
}

func TestObservable_FullChannelSkipped(t *testing.T) {
	o := NewObservable[int](false)
	ch := make(chan int, 1)
	o.Listen(ch)
	o.Publish(1)
	o.Publish(2)
	assert.Equal(t, []int{1}, drain(ch))
	latest, _ := o.Latest()
	assert.Equal(t, 2, latest)
}

func TestObservable_UpdateIsAtomic(t *testing.T) {
	o := NewObservableWithValue(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Update(func(v int) int { return v + 1 })
		}()
	}
	wg.Wait()
	latest, _ := o.Latest()
	assert.Equal(t, 50, latest)
}

func TestObservable_ListenNilPanics(t *testing.T) {
	o := NewObservable[int](false)
	assert.Panics(t, func() { o.Listen(nil) })
}
