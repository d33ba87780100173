package backend

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtimechat/model"
)

func TestFanoutDispatchesPerConversation(t *testing.T) {
	f := NewFanout(nil)
	a := f.Add("a", 4)
	b := f.Add("b", 4)

	f.Dispatch(model.Message{ConversationID: "a", Seq: 1})

	require.Len(t, a.Updates(), 1)
	assert.Len(t, b.Updates(), 0)
	assert.Equal(t, uint64(1), (<-a.Updates()).Seq)
}

func TestFanoutIdleCallback(t *testing.T) {
	var mu sync.Mutex
	var idle []string
	f := NewFanout(func(conv string) {
		mu.Lock()
		idle = append(idle, conv)
		mu.Unlock()
	})

	w1 := f.Add("a", 1)
	w2 := f.Add("a", 1)
	w1.Close()
	assert.Empty(t, idle)
	assert.Equal(t, 1, f.Count("a"))

	w2.Close()
	w2.Close()
	assert.Equal(t, []string{"a"}, idle)
	assert.Equal(t, 0, f.Count("a"))
	assert.NoError(t, w2.Err())
}

func TestFanoutSlowWatcherDoesNotBlockOthers(t *testing.T) {
	f := NewFanout(nil)
	slow := f.Add("a", 1)
	fast := f.Add("a", 8)

	for i := 1; i <= 3; i++ {
		f.Dispatch(model.Message{ConversationID: "a", Seq: uint64(i)})
	}

	assert.Len(t, fast.Updates(), 3)
	<-slow.Updates()
	_, open := <-slow.Updates()
	assert.False(t, open)
	assert.ErrorIs(t, slow.Err(), ErrWatcherBehind)
	assert.Equal(t, 1, f.Count("a"))
}

func TestFanoutEndAll(t *testing.T) {
	f := NewFanout(nil)
	a := f.Add("a", 1)
	b := f.Add("b", 1)
	down := errors.New("connection lost")

	f.EndAll(down)

	for _, w := range []Watch{a, b} {
		_, open := <-w.Updates()
		assert.False(t, open)
		assert.ErrorIs(t, w.Err(), down)
	}
}
