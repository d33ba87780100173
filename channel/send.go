package channel

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"realtimechat/errs"
	"realtimechat/model"
	"realtimechat/retry"
)

// Handle tracks one optimistic send until the backend acknowledges or rejects it.
type Handle struct {
	mu   sync.Mutex
	msg  model.Message
	err  error
	done chan struct{}
}

func newHandle(msg model.Message) *Handle {
	return &Handle{msg: msg, done: make(chan struct{})}
}

// Message returns the current copy: pending, then sent with server fields, or failed.
func (h *Handle) Message() model.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.msg
}

func (h *Handle) State() model.DeliveryState {
	return h.Message().State
}

// Err is the failure reason once the send has failed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed when the send is resolved either way.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the send resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (model.Message, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.msg, h.err
	case <-ctx.Done():
		return h.Message(), ctx.Err()
	}
}

func (h *Handle) succeed(sent model.Message) model.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent.State = model.StateSent
	h.msg = sent
	close(h.done)
	return sent
}

func (h *Handle) fail(err error) model.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msg.State = model.StateFailed
	h.msg.FailReason = errs.Status(err)
	h.err = err
	close(h.done)
	return h.msg
}

// outbox queues the unacknowledged sends of one conversation.
type outbox struct {
	queue []*Handle
}

// Send queues body for delivery and returns at once with a pending handle.
// Sends to one conversation reach the backend in call order.
func (c *Channel) Send(conversationID, senderID string, body model.Body) (*Handle, error) {
	if strings.TrimSpace(senderID) == "" {
		return nil, errs.ErrUnauthenticated
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, errs.Validation("conversation id is required")
	}
	body, err := body.Validate()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.clientSeq[conversationID]++
	msg := model.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		ClientID:       uuid.NewString(),
		ClientSeq:      c.clientSeq[conversationID],
		Body:           body,
		State:          model.StatePending,
	}
	h := newHandle(msg)
	ob, running := c.outboxes[conversationID]
	if !running {
		ob = &outbox{}
		c.outboxes[conversationID] = ob
		c.wg.Add(1)
		go c.drain(conversationID, ob)
	}
	ob.queue = append(ob.queue, h)
	c.mu.Unlock()

	c.notify(conversationID, Event{Kind: EventPending, Message: msg})
	return h, nil
}

func (c *Channel) drain(conversationID string, ob *outbox) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if len(ob.queue) == 0 {
			delete(c.outboxes, conversationID)
			c.mu.Unlock()
			return
		}
		h := ob.queue[0]
		ob.queue = ob.queue[1:]
		c.mu.Unlock()

		c.deliver(h)
	}
}

func (c *Channel) deliver(h *Handle) {
	pending := h.Message()
	log := c.log.With().
		Str("conversation", pending.ConversationID).
		Str("client_id", pending.ClientID).
		Uint64("client_seq", pending.ClientSeq).
		Logger()

	if err := c.ctx.Err(); err != nil {
		failed := h.fail(err)
		c.notify(failed.ConversationID, Event{Kind: EventFailed, Message: failed, Err: err})
		return
	}

	var sent model.Message
	res := retry.Do(c.ctx, c.opts.SendPolicy, func(ctx context.Context) error {
		var err error
		sent, err = c.docs.AppendMessage(ctx, pending)
		return err
	}, retry.WithSleeper(c.opts.Sleep), retry.WithLogger(log, "message.append"))

	if err := res.Err(); err != nil {
		log.Error().Err(err).Int("attempts", res.Attempts).Msg("message send failed")
		failed := h.fail(err)
		c.notify(failed.ConversationID, Event{Kind: EventFailed, Message: failed, Err: err})
		return
	}

	sent = h.succeed(sent)
	log.Debug().Uint64("seq", sent.Seq).Int64("timestamp", sent.Timestamp).Msg("message sent")
	c.notify(sent.ConversationID, Event{Kind: EventSent, Message: sent})
}
