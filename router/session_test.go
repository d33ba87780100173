package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtimechat/backend"
	"realtimechat/channel"
	"realtimechat/errs"
	"realtimechat/model"
)

type emitted struct {
	room    string
	event   string
	payload any
}

// recorder collects emits and lets tests wait for a matching one.
type recorder struct {
	mu     sync.Mutex
	events []emitted
	added  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{added: make(chan struct{}, 1)}
}

func (r *recorder) emit(event string, payload any) {
	r.Emit("", event, payload)
}

func (r *recorder) Emit(room, event string, payload any) {
	r.mu.Lock()
	r.events = append(r.events, emitted{room: room, event: event, payload: payload})
	r.mu.Unlock()
	select {
	case r.added <- struct{}{}:
	default:
	}
}

func (r *recorder) find(match func(emitted) bool) (emitted, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if match(e) {
			return e, true
		}
	}
	return emitted{}, false
}

func (r *recorder) wait(t *testing.T, match func(emitted) bool) emitted {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if e, ok := r.find(match); ok {
			return e
		}
		select {
		case <-r.added:
		case <-deadline:
			t.Fatalf("no matching emit")
		}
	}
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func chatMessage(kind string, text string) func(emitted) bool {
	return func(e emitted) bool {
		ev, ok := e.payload.(ChatEvent)
		return ok && e.event == EventChat && ev.Kind == kind && ev.Message != nil && ev.Message.Body.Text == text
	}
}

func newSession(t *testing.T, uid string) (*ChatSession, *recorder, *recorder, *backend.Memory) {
	t.Helper()
	mem := backend.NewMemory()
	ch := channel.New(mem, mem, channel.Options{
		Sleep:  func(context.Context, time.Duration) error { return nil },
		Logger: zerolog.Nop(),
	})
	t.Cleanup(ch.Close)

	client, rooms := newRecorder(), newRecorder()
	s := NewChatSession(uid, ch, client.emit, rooms, zerolog.Nop())
	t.Cleanup(s.Close)
	return s, client, rooms, mem
}

func TestSessionOpenStreamsAndSends(t *testing.T) {
	s, client, rooms, _ := newSession(t, "alice")
	id, err := model.ConversationID("alice", "bob")
	require.NoError(t, err)

	s.Open("bob")
	client.wait(t, func(e emitted) bool { return e.event == EventOpen })
	client.wait(t, func(e emitted) bool {
		ev, ok := e.payload.(ChatEvent)
		return ok && ev.Kind == "state" && ev.State == "synced"
	})

	s.Send(id, model.TextBody("hi bob"))
	client.wait(t, chatMessage("pending", "hi bob"))
	client.wait(t, chatMessage("sent", "hi bob"))
	client.wait(t, chatMessage("message", "hi bob"))

	notice := rooms.wait(t, func(e emitted) bool { return e.event == EventNotify })
	assert.Equal(t, "bob", notice.room)
}

func TestSessionRejectsUnopenedConversation(t *testing.T) {
	s, client, _, mem := newSession(t, "alice")
	id, err := model.ConversationID("alice", "mallory")
	require.NoError(t, err)

	s.Send(id, model.TextBody("sneaky"))
	s.LoadOlder(id, 1<<62, 10)

	e := client.wait(t, func(e emitted) bool { return e.event == EventError })
	assert.Equal(t, EventSend, e.payload.(ChatError).Event)
	assert.Equal(t, 2, client.count(EventError))
	assert.Zero(t, mem.Calls(backend.OpAppendMessage))
	assert.Zero(t, mem.Calls(backend.OpMessagesBefore))
}

func TestSessionOpenRejectsSelf(t *testing.T) {
	s, client, _, _ := newSession(t, "alice")

	s.Open("alice")
	e := client.wait(t, func(e emitted) bool { return e.event == EventError })
	assert.Equal(t, EventOpen, e.payload.(ChatError).Event)
	assert.Zero(t, client.count(EventOpen))
}

func TestSessionLoadOlder(t *testing.T) {
	s, client, _, mem := newSession(t, "alice")
	id, err := model.ConversationID("alice", "bob")
	require.NoError(t, err)

	s.Open("bob")
	client.wait(t, func(e emitted) bool { return e.event == EventOpen })
	mem.SeedMessages(id,
		model.Message{ID: "m1", Seq: 1, Timestamp: 10, SenderID: "bob", Body: model.TextBody("old")},
		model.Message{ID: "m2", Seq: 2, Timestamp: 20, SenderID: "alice", Body: model.TextBody("newer")},
	)

	s.LoadOlder(id, 20, 10)
	e := client.wait(t, func(e emitted) bool { return e.event == EventLoadOlder })
	msgs := e.payload.(fiber.Map)["messages"].([]model.Message)
	require.Len(t, msgs, 1)
	assert.Equal(t, "old", msgs[0].Body.Text)
}

func TestSessionUnsubscribeReleasesWatch(t *testing.T) {
	s, client, _, mem := newSession(t, "alice")
	id, err := model.ConversationID("alice", "bob")
	require.NoError(t, err)

	s.Open("bob")
	client.wait(t, func(e emitted) bool {
		ev, ok := e.payload.(ChatEvent)
		return ok && ev.State == "synced"
	})
	assert.Equal(t, 1, mem.Watchers(id))

	s.Unsubscribe(id)
	assert.Zero(t, mem.Watchers(id))

	s.Send(id, model.TextBody("after"))
	client.wait(t, func(e emitted) bool { return e.event == EventError })
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s, client, _, mem := newSession(t, "alice")
	id, err := model.ConversationID("alice", "bob")
	require.NoError(t, err)

	s.Open("bob")
	client.wait(t, func(e emitted) bool { return e.event == EventOpen })

	s.Close()
	s.Close()
	assert.Zero(t, mem.Watchers(id))
}

func TestSessionSendRightAfterOpen(t *testing.T) {
	s, client, _, mem := newSession(t, "alice")
	id, err := model.ConversationID("alice", "bob")
	require.NoError(t, err)
	mem.Fail(backend.OpEnsureConversation, errs.Unavailable(errors.New("blip")), 1)

	s.Enqueue(EventOpen, func() { s.Open("bob") })
	s.Enqueue(EventSend, func() { s.Send(id, model.TextBody("right away")) })

	client.wait(t, chatMessage("sent", "right away"))
	assert.Zero(t, client.count(EventError))
	assert.Equal(t, 2, mem.Calls(backend.OpEnsureConversation))
}

func TestSessionRunsRequestsInOrder(t *testing.T) {
	s, _, _, _ := newSession(t, "alice")

	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		i := i
		s.Enqueue(EventSend, func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 19 {
				close(done)
			}
		})
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.Len(t, got, 20)
}

func TestSessionRejectsRequestsBeyondLimit(t *testing.T) {
	s, client, _, _ := newSession(t, "alice")

	release := make(chan struct{})
	started := make(chan struct{})
	s.Enqueue(EventOpen, func() {
		close(started)
		<-release
	})
	<-started
	for i := 0; i < MaxPendingRequests; i++ {
		s.Enqueue(EventSend, func() {})
	}
	assert.Zero(t, client.count(EventError))

	s.Enqueue(EventLoadOlder, func() { t.Error("request beyond the limit ran") })
	e := client.wait(t, func(e emitted) bool { return e.event == EventError })
	assert.Equal(t, EventLoadOlder, e.payload.(ChatError).Event)
	close(release)
}

func TestSessionDropsRequestsAfterClose(t *testing.T) {
	s, _, _, _ := newSession(t, "alice")
	s.Close()

	ran := make(chan struct{})
	s.Enqueue(EventOpen, func() { close(ran) })
	select {
	case <-ran:
		t.Fatal("request ran on a closed session")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionList(t *testing.T) {
	s, client, _, _ := newSession(t, "alice")
	id, err := model.ConversationID("alice", "bob")
	require.NoError(t, err)

	s.Open("bob")
	client.wait(t, func(e emitted) bool { return e.event == EventOpen })
	s.Send(id, model.TextBody("hello"))
	client.wait(t, chatMessage("sent", "hello"))

	s.List(0)
	e := client.wait(t, func(e emitted) bool { return e.event == EventList })
	list := e.payload.(fiber.Map)["conversations"].([]fiber.Map)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])
	assert.Equal(t, "bob", list[0]["peer"])
	last := list[0]["last_message"].(*model.Message)
	assert.Equal(t, "hello", last.Body.Text)
}
