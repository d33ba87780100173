package channel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"realtimechat/errs"
	"realtimechat/model"
)

// Subscription is a live view of one conversation. Events are pulled with Next.
type Subscription struct {
	ch   *Channel
	conv string
	log  zerolog.Logger

	mu        sync.Mutex
	queue     []Event
	streamed  int // EventMessage entries in queue
	state     State
	cancelled bool

	ready   chan struct{}
	space   chan struct{}
	done    chan struct{}
	exited  chan struct{}
	stopCtx context.CancelFunc
	once    sync.Once
}

// Subscribe starts streaming conversationID: recent history first, oldest
// first, then live messages. The subscription ends when ctx is done, on Cancel
// or when the channel is closed.
func (c *Channel) Subscribe(ctx context.Context, conversationID string) (*Subscription, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errs.Validation("conversation id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(c.ctx, cancel)
	s := &Subscription{
		ch:     c,
		conv:   conversationID,
		log:    c.log.With().Str("conversation", conversationID).Logger(),
		ready:  make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		stopCtx: func() {
			stopOnClose()
			cancel()
		},
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.stopCtx()
		return nil, ErrClosed
	}
	if c.subs[conversationID] == nil {
		c.subs[conversationID] = make(map[*Subscription]struct{})
	}
	c.subs[conversationID][s] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go s.run(runCtx)
	return s, nil
}

// Next returns the next event. After Cancel it returns ErrCancelled, even if
// events were queued.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			return Event{}, ErrCancelled
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			if ev.Kind == EventMessage {
				s.streamed--
			}
			s.mu.Unlock()
			signal(s.space)
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.ready:
		case <-s.done:
		}
	}
}

// State returns the current connection state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel ends the subscription and waits until its backend watch is released.
// It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.stop()
	<-s.exited
}

func (s *Subscription) stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.cancelled = true
		s.queue = nil
		s.streamed = 0
		s.mu.Unlock()
		close(s.done)
		s.stopCtx()
		s.ch.unregister(s)
	})
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// push queues a local event. Local events are bounded by the caller's sends
// and never wait for the reader.
func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	signal(s.ready)
}

// pushMessage queues a stream message, waiting while the reader is Buffer messages behind.
func (s *Subscription) pushMessage(ctx context.Context, m model.Message) error {
	m.State = model.StateSent
	for {
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			return ErrCancelled
		}
		if s.streamed < s.ch.opts.Buffer {
			s.queue = append(s.queue, Event{Kind: EventMessage, Message: m})
			s.streamed++
			s.mu.Unlock()
			signal(s.ready)
			return nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.space:
		case <-s.done:
		}
	}
}

func (s *Subscription) setState(state State, cause error) {
	s.mu.Lock()
	if s.state == state || s.cancelled {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.queue = append(s.queue, Event{Kind: EventState, State: state, Err: cause})
	s.mu.Unlock()
	signal(s.ready)
}

// cursor tracks what a subscription has delivered.
type cursor struct {
	last   uint64
	primed bool
}

func (s *Subscription) run(ctx context.Context) {
	defer s.ch.wg.Done()
	defer close(s.exited)
	defer s.stop()

	var cur cursor
	policy := s.ch.opts.ResyncPolicy
	attempt := 0
	for {
		s.setState(Connecting, nil)
		synced, err := s.session(ctx, &cur)
		if ctx.Err() != nil {
			return
		}
		if synced {
			attempt = 0
		}

		s.setState(Disconnected, err)
		if policy.Exhausted(attempt) {
			s.log.Error().Err(err).Msg("giving up on subscription")
			return
		}
		delay := policy.Delay(attempt)
		attempt++
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("subscription lost, resubscribing")
		if err := s.ch.opts.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// session runs one connection: watch, replay what was missed, then stream
// until the watch fails.
func (s *Subscription) session(ctx context.Context, cur *cursor) (synced bool, err error) {
	w, err := s.ch.feed.Watch(ctx, s.conv)
	if err != nil {
		return false, err
	}
	defer w.Close()

	if !cur.primed {
		history, err := s.ch.docs.MessagesBefore(ctx, s.conv, math.MaxInt64, s.ch.opts.HistoryLimit)
		if err != nil {
			return false, err
		}
		model.SortMessages(history)
		for _, m := range history {
			if err := s.deliver(ctx, cur, m); err != nil {
				return false, err
			}
		}
		cur.primed = true
	}
	if err := s.catchUp(ctx, cur); err != nil {
		return false, err
	}

	s.setState(Synced, nil)
	s.log.Debug().Uint64("seq", cur.last).Msg("subscription synced")

	var tick <-chan time.Time
	if interval := s.ch.opts.CatchUpInterval; interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-tick:
			if err := s.catchUp(ctx, cur); err != nil {
				return true, err
			}
		case m, ok := <-w.Updates():
			if !ok {
				if err := w.Err(); err != nil {
					return true, err
				}
				return true, errs.Unavailable(errors.New("watch closed"))
			}
			if m.Seq <= cur.last {
				continue
			}
			if m.Seq > cur.last+1 {
				if err := s.catchUp(ctx, cur); err != nil {
					return true, err
				}
				if m.Seq <= cur.last {
					continue
				}
				if m.Seq > cur.last+1 {
					return true, errs.Unavailable(fmt.Errorf("missing messages before seq %d", m.Seq))
				}
			}
			if err := s.deliver(ctx, cur, m); err != nil {
				return true, err
			}
		}
	}
}

func (s *Subscription) catchUp(ctx context.Context, cur *cursor) error {
	limit := s.ch.opts.PageLimit
	for {
		page, err := s.ch.docs.MessagesAfter(ctx, s.conv, cur.last, limit)
		if err != nil {
			return err
		}
		for _, m := range page {
			if err := s.deliver(ctx, cur, m); err != nil {
				return err
			}
		}
		if len(page) < limit {
			return nil
		}
	}
}

func (s *Subscription) deliver(ctx context.Context, cur *cursor, m model.Message) error {
	if m.Seq <= cur.last {
		return nil
	}
	if err := s.pushMessage(ctx, m); err != nil {
		return err
	}
	cur.last = m.Seq
	return nil
}
