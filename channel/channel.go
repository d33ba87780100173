// Package channel implements the per-conversation message stream: optimistic
// sends drained in order, live subscriptions that resynchronize after
// reconnects, and paging through older history.
package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"realtimechat/backend"
	"realtimechat/errs"
	"realtimechat/model"
	"realtimechat/retry"
)

var (
	ErrClosed    = errors.New("channel: closed")
	ErrCancelled = errors.New("channel: subscription cancelled")
)

const (
	DefaultHistoryLimit = 50
	DefaultPageLimit    = 100
	DefaultBuffer       = 256
	// DefaultCatchUpInterval bounds how long a lost live notification can delay delivery.
	DefaultCatchUpInterval = 5 * time.Second
	// MaxLoadLimit caps a single LoadOlder page.
	MaxLoadLimit = 500
)

type Options struct {
	// HistoryLimit is how many recent messages a fresh subscription replays.
	HistoryLimit int
	// PageLimit sizes catch-up reads after a reconnect.
	PageLimit    int
	SendPolicy   retry.Policy
	ResyncPolicy retry.Policy
	ReadPolicy   retry.Policy
	Sleep        retry.Sleeper
	// Buffer bounds undelivered stream messages per subscription.
	Buffer int
	// CatchUpInterval is how often a synced subscription re-reads the store
	// for messages the feed never announced. Negative disables it.
	CatchUpInterval time.Duration
	Logger          zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.PageLimit <= 0 {
		o.PageLimit = DefaultPageLimit
	}
	if o.SendPolicy == (retry.Policy{}) {
		o.SendPolicy = retry.SendPolicy()
	}
	if o.ResyncPolicy == (retry.Policy{}) {
		o.ResyncPolicy = retry.ResubscribePolicy()
	}
	if o.ReadPolicy == (retry.Policy{}) {
		o.ReadPolicy = retry.DefaultPolicy()
	}
	if o.Sleep == nil {
		o.Sleep = retry.Sleep
	}
	if o.Buffer <= 0 {
		o.Buffer = DefaultBuffer
	}
	if o.CatchUpInterval == 0 {
		o.CatchUpInterval = DefaultCatchUpInterval
	}
	return o
}

type Channel struct {
	docs backend.Documents
	feed backend.Feed
	opts Options
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	clientSeq map[string]uint64
	outboxes  map[string]*outbox
	subs      map[string]map[*Subscription]struct{}
}

func New(docs backend.Documents, feed backend.Feed, opts Options) *Channel {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		docs:      docs,
		feed:      feed,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "channel").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		clientSeq: make(map[string]uint64),
		outboxes:  make(map[string]*outbox),
		subs:      make(map[string]map[*Subscription]struct{}),
	}
}

// Open resolves the conversation between self and peer, creating it if needed.
func (c *Channel) Open(ctx context.Context, self, peer string) (model.Conversation, error) {
	if strings.TrimSpace(self) == "" {
		return model.Conversation{}, errs.ErrUnauthenticated
	}
	conv, err := model.NewConversation(self, peer)
	if err != nil {
		return model.Conversation{}, err
	}
	err = retry.Do(ctx, c.opts.ReadPolicy, func(ctx context.Context) error {
		return c.docs.EnsureConversation(ctx, conv)
	}, retry.WithSleeper(c.opts.Sleep), retry.WithLogger(c.log, "conversation.ensure")).Err()
	if err != nil {
		return model.Conversation{}, err
	}
	return conv, nil
}

// LoadOlder returns up to limit messages with a timestamp before before,
// oldest first.
func (c *Channel) LoadOlder(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errs.Validation("conversation id is required")
	}
	if before <= 0 {
		return nil, errs.Validation("before must be a positive timestamp")
	}
	if limit <= 0 {
		return nil, errs.Validation("limit must be positive")
	}
	if limit > MaxLoadLimit {
		limit = MaxLoadLimit
	}

	var msgs []model.Message
	err := retry.Do(ctx, c.opts.ReadPolicy, func(ctx context.Context) error {
		var err error
		msgs, err = c.docs.MessagesBefore(ctx, conversationID, before, limit)
		return err
	}, retry.WithSleeper(c.opts.Sleep), retry.WithLogger(c.log, "messages.before")).Err()
	if err != nil {
		return nil, err
	}
	model.SortMessages(msgs)
	return msgs, nil
}

// Close cancels every subscription, fails sends that have not reached the
// backend and waits for background work to stop.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var subs []*Subscription
	for _, set := range c.subs {
		for s := range set {
			subs = append(subs, s)
		}
	}
	c.mu.Unlock()

	c.cancel()
	for _, s := range subs {
		s.Cancel()
	}
	c.wg.Wait()
}

// notify delivers a local event to every subscription of the conversation.
func (c *Channel) notify(conversationID string, ev Event) {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs[conversationID]))
	for s := range c.subs[conversationID] {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.push(ev)
	}
}

func (c *Channel) unregister(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.subs[s.conv]
	delete(set, s)
	if len(set) == 0 {
		delete(c.subs, s.conv)
	}
}
