package database

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtimechat/backend"
	"realtimechat/errs"
	"realtimechat/model"
)

func feedPayload(t *testing.T, m model.Message) string {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return string(raw)
}

func receive(t *testing.T, w backend.Watch) model.Message {
	t.Helper()
	select {
	case m, ok := <-w.Updates():
		require.True(t, ok, "watch ended: %v", w.Err())
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
		return model.Message{}
	}
}

func ended(t *testing.T, w backend.Watch) error {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Updates():
			if !ok {
				return w.Err()
			}
		case <-deadline:
			t.Fatal("watch still open")
			return nil
		}
	}
}

func assertIdle(t *testing.T, w backend.Watch) {
	t.Helper()
	select {
	case m, ok := <-w.Updates():
		t.Fatalf("unexpected update %+v (open=%v)", m, ok)
	default:
	}
}

func TestFeedHandleRoutesByChannel(t *testing.T) {
	f := NewRedisFeed(nil, zerolog.Nop())
	w := f.fanout.Add("c1", 4)
	defer w.Close()

	f.handle(feedPrefix+"c1", feedPayload(t, model.Message{ID: "m1", ConversationID: "c2", Seq: 1}))
	got := receive(t, w)
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "c1", got.ConversationID)

	f.handle("other:c1", feedPayload(t, model.Message{ID: "m2", Seq: 2}))
	f.handle(feedPrefix+"c1", "{not json")
	assertIdle(t, w)

	f.handle(feedPrefix+"c1", feedPayload(t, model.Message{ID: "m3", Seq: 3}))
	assert.Equal(t, "m3", receive(t, w).ID)
}

func TestFeedReleasesIdleConversation(t *testing.T) {
	var logs bytes.Buffer
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	defer client.Close()
	f := NewRedisFeed(client, zerolog.New(&logs))
	f.pubsub = client.Subscribe(context.Background())
	defer f.Close()

	first := f.fanout.Add("c1", 4)
	second := f.fanout.Add("c1", 4)

	first.Close()
	assert.Empty(t, logs.String())

	// the unsubscribe reaches the unreachable server and fails, which shows it was attempted
	second.Close()
	assert.Contains(t, logs.String(), "unsubscribe failed")
	assert.Contains(t, logs.String(), `"conversation":"c1"`)
}

func TestFeedEndsWatchesWhenConnectionCloses(t *testing.T) {
	f := NewRedisFeed(nil, zerolog.Nop())
	a := f.fanout.Add("c1", 4)
	b := f.fanout.Add("c2", 4)

	updates := make(chan interface{})
	done := make(chan struct{})
	go func() {
		f.dispatch(updates)
		close(done)
	}()
	close(updates)
	<-done

	for _, w := range []backend.Watch{a, b} {
		err := ended(t, w)
		assert.ErrorIs(t, err, errs.ErrBackendUnavailable)
	}
	assert.Zero(t, f.fanout.Count("c1"))
}

func TestFeedReconnectEndsResubscribedWatches(t *testing.T) {
	f := NewRedisFeed(nil, zerolog.Nop())
	c1 := f.fanout.Add("c1", 4)
	c2 := f.fanout.Add("c2", 4)
	defer c2.Close()

	updates := make(chan interface{})
	done := make(chan struct{})
	go func() {
		f.dispatch(updates)
		close(done)
	}()
	defer func() {
		close(updates)
		<-done
	}()

	updates <- &redis.Subscription{Kind: "subscribe", Channel: feedPrefix + "c1", Count: 1}
	updates <- &redis.Subscription{Kind: "subscribe", Channel: feedPrefix + "c2", Count: 2}
	updates <- &redis.Message{Channel: feedPrefix + "c1", Payload: feedPayload(t, model.Message{ID: "m1", Seq: 1})}
	assert.Equal(t, "m1", receive(t, c1).ID)

	// an explicit unsubscribe followed by a subscribe is not a reconnect
	updates <- &redis.Subscription{Kind: "unsubscribe", Channel: feedPrefix + "c2", Count: 1}
	updates <- &redis.Subscription{Kind: "subscribe", Channel: feedPrefix + "c2", Count: 2}

	updates <- &redis.Subscription{Kind: "subscribe", Channel: feedPrefix + "c1", Count: 2}
	err := ended(t, c1)
	assert.ErrorIs(t, err, errs.ErrBackendUnavailable)
	assert.ErrorIs(t, err, ErrFeedReconnected)
	assert.True(t, errs.IsTransient(err))

	updates <- &redis.Message{Channel: feedPrefix + "c2", Payload: feedPayload(t, model.Message{ID: "m2", Seq: 1})}
	assert.Equal(t, "m2", receive(t, c2).ID)
}
