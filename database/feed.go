package database

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"realtimechat/backend"
	"realtimechat/errs"
	"realtimechat/model"
)

const (
	feedPrefix      = "chat:conversation:"
	feedWatchBuffer = 256
	feedChannelSize = 1024
)

// RedisFeed is the live change feed. All watches share one Pub/Sub
// connection; a conversation's channel is subscribed while it has watchers.
type RedisFeed struct {
	client *redis.Client
	log    zerolog.Logger
	fanout *backend.Fanout

	// subMu orders channel subscribe and unsubscribe calls.
	subMu  sync.Mutex
	pubsub *redis.PubSub
}

var (
	_ backend.Feed      = (*RedisFeed)(nil)
	_ backend.Publisher = (*RedisFeed)(nil)
)

func NewRedisFeed(client *redis.Client, log zerolog.Logger) *RedisFeed {
	f := &RedisFeed{client: client, log: log}
	f.fanout = backend.NewFanout(f.release)
	return f
}

func feedChannel(conversationID string) string {
	return feedPrefix + conversationID
}

func (f *RedisFeed) Publish(ctx context.Context, m model.Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return errs.Unavailable(f.client.Publish(ctx, feedChannel(m.ConversationID), payload).Err())
}

func (f *RedisFeed) Watch(ctx context.Context, conversationID string) (backend.Watch, error) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	if f.pubsub == nil {
		f.pubsub = f.client.Subscribe(ctx)
		go f.dispatch(f.pubsub.ChannelWithSubscriptions(redis.WithChannelSize(feedChannelSize)))
	}
	if f.fanout.Count(conversationID) == 0 {
		if err := f.pubsub.Subscribe(ctx, feedChannel(conversationID)); err != nil {
			return nil, errs.Unavailable(err)
		}
	}
	return f.fanout.Add(conversationID, feedWatchBuffer), nil
}

// release unsubscribes a conversation nobody watches any more.
func (f *RedisFeed) release(conversationID string) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	if f.pubsub == nil || f.fanout.Count(conversationID) > 0 {
		return
	}
	if err := f.pubsub.Unsubscribe(context.Background(), feedChannel(conversationID)); err != nil {
		f.log.Warn().Err(err).Str("conversation", conversationID).Msg("unsubscribe failed")
	}
}

// ErrFeedReconnected ends the watches of a channel whose Pub/Sub connection
// was re-established; anything published in between was missed.
var ErrFeedReconnected = errors.New("feed reconnected")

// dispatch routes messages until the Pub/Sub connection closes. A second
// subscribe confirmation for a channel means go-redis reconnected and
// resubscribed it, so its watchers are ended to make them catch up.
func (f *RedisFeed) dispatch(updates <-chan interface{}) {
	confirmed := make(map[string]bool)
	for update := range updates {
		switch msg := update.(type) {
		case *redis.Message:
			f.handle(msg.Channel, msg.Payload)
		case *redis.Subscription:
			switch msg.Kind {
			case "subscribe":
				if confirmed[msg.Channel] {
					f.log.Warn().Str("channel", msg.Channel).Msg("feed resubscribed after reconnect")
					f.fanout.End(strings.TrimPrefix(msg.Channel, feedPrefix), errs.Unavailable(ErrFeedReconnected))
				}
				confirmed[msg.Channel] = true
			case "unsubscribe":
				delete(confirmed, msg.Channel)
			}
		}
	}
	f.fanout.EndAll(errs.Unavailable(errors.New("feed connection closed")))
}

func (f *RedisFeed) handle(channel, payload string) {
	if !strings.HasPrefix(channel, feedPrefix) {
		return
	}
	var m model.Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		f.log.Warn().Err(err).Str("channel", channel).Msg("dropping malformed feed message")
		return
	}
	m.ConversationID = strings.TrimPrefix(channel, feedPrefix)
	f.fanout.Dispatch(m)
}

// Close ends every watch and the shared Pub/Sub connection.
func (f *RedisFeed) Close() error {
	f.subMu.Lock()
	ps := f.pubsub
	f.pubsub = nil
	f.subMu.Unlock()
	if ps == nil {
		return nil
	}
	return ps.Close()
}
