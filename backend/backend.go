// Package backend describes the managed backend the chat core talks to:
// documents, binary objects, a live change feed and a small cache.
package backend

import (
	"context"
	"errors"
	"time"

	"realtimechat/model"
)

// ProfileQuery selects a page of profiles ordered by id.
type ProfileQuery struct {
	Excluding string    // never returned
	After     string    // keyset cursor, exclusive
	AsOf      time.Time // only profiles created at or before this instant; zero means no bound
	Limit     int
}

// Documents is the key/value document store.
type Documents interface {
	GetProfile(ctx context.Context, id string) (model.User, error)
	ListProfiles(ctx context.Context, q ProfileQuery) ([]model.User, error)
	UpsertProfile(ctx context.Context, u model.User) error

	EnsureConversation(ctx context.Context, c model.Conversation) error
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	// ListConversations returns up to limit conversations of member that
	// carry at least one message, most recently active first.
	ListConversations(ctx context.Context, member string, limit int) ([]model.Conversation, error)

	// AppendMessage assigns Seq, Timestamp and ID, persists the message and
	// fans it out on the feed. Appending the same (ConversationID, ClientID)
	// twice returns the stored message.
	AppendMessage(ctx context.Context, m model.Message) (model.Message, error)
	// MessagesBefore returns up to limit of the newest messages with
	// Timestamp < before, in ascending (Timestamp, Seq) order.
	MessagesBefore(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error)
	// MessagesAfter returns up to limit messages with Seq > afterSeq, ascending.
	MessagesAfter(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]model.Message, error)
}

// Objects is the binary object store.
type Objects interface {
	// Put publishes blob atomically; readers never observe a partial object.
	Put(ctx context.Context, blob model.AttachmentBlob) error
	// Stat returns metadata of a published object without its data.
	Stat(ctx context.Context, path string) (model.AttachmentBlob, error)
	Get(ctx context.Context, path string) (model.AttachmentBlob, error)
	// URL returns a stable retrieval URL for a published object.
	URL(ctx context.Context, path string) (string, error)
}

// Watch is a live view of one conversation. Updates is closed when the watch
// ends; Err then reports why (nil after Close).
type Watch interface {
	Updates() <-chan model.Message
	Err() error
	Close()
}

// Feed hands out live watches over a shared connection.
type Feed interface {
	Watch(ctx context.Context, conversationID string) (Watch, error)
}

// Publisher pushes committed messages to watchers.
type Publisher interface {
	Publish(ctx context.Context, m model.Message) error
}

// ErrCacheMiss is returned by Cache.Get for absent keys.
var ErrCacheMiss = errors.New("cache: miss")

// Cache is a string key/value cache with expiry.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// Take returns the value of key and deletes it in one step.
	Take(ctx context.Context, key string) (string, error)
}
