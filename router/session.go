package router

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"realtimechat/channel"
	"realtimechat/controller"
	"realtimechat/errs"
	"realtimechat/model"
)

// Events exchanged with socket clients.
const (
	EventOpen        = "chat_open"
	EventSend        = "chat_send"
	EventLoadOlder   = "chat_load_older"
	EventUnsubscribe = "chat_unsubscribe"
	EventList        = "chat_list"
	EventChat        = "chat_event"
	EventError       = "chat_error"
	EventNotify      = "chat_notify"
)

// Notifier delivers an event to every socket in a room, on any instance.
type Notifier interface {
	Emit(room, event string, payload any)
}

// ChatEvent is the payload of chat_event.
type ChatEvent struct {
	Conversation string         `json:"conversation_id"`
	Kind         string         `json:"kind"`
	Message      *model.Message `json:"message,omitempty"`
	State        string         `json:"state,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ChatError is the payload of chat_error.
type ChatError struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// MaxPendingRequests bounds the socket requests a session holds before
// answering new ones with an error.
const MaxPendingRequests = 256

var ErrTooManyRequests = errors.New("too many pending requests")

// ChatSession binds one connected user to the chat channel. It only relays:
// ordering, retries and resync all happen in the channel.
type ChatSession struct {
	uid     string
	channel *channel.Channel
	emit    func(event string, payload any)
	notify  Notifier
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}

	mu      sync.Mutex
	open    map[string]model.Conversation
	subs    map[string]*channel.Subscription
	pending []func()
	ended   bool
}

// NewChatSession starts a session for uid. emit sends to this client only;
// notify may be nil.
func NewChatSession(uid string, ch *channel.Channel, emit func(event string, payload any), notify Notifier, log zerolog.Logger) *ChatSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &ChatSession{
		uid:     uid,
		channel: ch,
		emit:    emit,
		notify:  notify,
		log:     log.With().Str("uid", uid).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		open:    make(map[string]model.Conversation),
		subs:    make(map[string]*channel.Subscription),
	}
	s.wg.Add(1)
	go s.serve()
	return s
}

// Enqueue runs request after every request enqueued before it, so a send
// that follows an open sees the opened conversation.
func (s *ChatSession) Enqueue(event string, request func()) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	if len(s.pending) >= MaxPendingRequests {
		s.mu.Unlock()
		s.fail(event, errs.Unavailable(ErrTooManyRequests))
		return
	}
	s.pending = append(s.pending, request)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *ChatSession) serve() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		request := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			return
		}
		request()
	}
}

func (s *ChatSession) fail(event string, err error) {
	s.log.Debug().Err(err).Str("event", event).Msg("socket request failed")
	s.emit(EventError, ChatError{Event: event, Message: errs.Status(err)})
}

// Open resolves the conversation with peer and streams it to the client.
// Opening an already streamed conversation only repeats the acknowledgement.
func (s *ChatSession) Open(peer string) {
	conv, err := s.channel.Open(s.ctx, s.uid, peer)
	if err != nil {
		s.fail(EventOpen, err)
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.open[conv.ID] = conv
	_, streaming := s.subs[conv.ID]
	s.mu.Unlock()

	s.emit(EventOpen, controller.ConversationView(conv))
	if streaming {
		return
	}

	sub, err := s.channel.Subscribe(s.ctx, conv.ID)
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		s.fail(EventOpen, err)
		return
	}

	s.mu.Lock()
	if s.ended || s.subs[conv.ID] != nil {
		s.mu.Unlock()
		sub.Cancel()
		return
	}
	s.subs[conv.ID] = sub
	s.wg.Add(1)
	s.mu.Unlock()

	go s.pump(conv.ID, sub)
}

func (s *ChatSession) pump(conversationID string, sub *channel.Subscription) {
	defer s.wg.Done()
	for {
		ev, err := sub.Next(s.ctx)
		if err != nil {
			if !errors.Is(err, channel.ErrCancelled) && !errors.Is(err, context.Canceled) {
				s.fail(EventChat, err)
			}
			return
		}
		s.emit(EventChat, chatEvent(conversationID, ev))
	}
}

func chatEvent(conversationID string, ev channel.Event) ChatEvent {
	out := ChatEvent{Conversation: conversationID, Kind: ev.Kind.String()}
	switch ev.Kind {
	case channel.EventState:
		out.State = ev.State.String()
		if ev.Err != nil {
			out.Error = errs.Status(ev.Err)
		}
	default:
		msg := ev.Message
		out.Message = &msg
	}
	return out
}

func (s *ChatSession) conversation(conversationID string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.open[conversationID]
	if !ok {
		return model.Conversation{}, errs.Validation("conversation %s is not open", conversationID)
	}
	return conv, nil
}

// Send queues body in an open conversation. Progress arrives as chat_event;
// once stored, the peer is told about it through chat_notify.
func (s *ChatSession) Send(conversationID string, body model.Body) {
	conv, err := s.conversation(conversationID)
	if err != nil {
		s.fail(EventSend, err)
		return
	}
	handle, err := s.channel.Send(conv.ID, s.uid, body)
	if err != nil {
		s.fail(EventSend, err)
		return
	}
	if s.notify == nil {
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		msg, err := handle.Wait(s.ctx)
		if err != nil {
			return
		}
		s.notify.Emit(conv.Peer(s.uid), EventNotify, fiber.Map{
			"conversation": controller.ConversationView(conv),
			"from":         s.uid,
			"message":      msg,
		})
	}()
}

// LoadOlder replies with a page of history before the given timestamp.
func (s *ChatSession) LoadOlder(conversationID string, before int64, limit int) {
	if _, err := s.conversation(conversationID); err != nil {
		s.fail(EventLoadOlder, err)
		return
	}
	msgs, err := s.channel.LoadOlder(s.ctx, conversationID, before, limit)
	if err != nil {
		s.fail(EventLoadOlder, err)
		return
	}
	s.emit(EventLoadOlder, fiber.Map{
		"conversation_id": conversationID,
		"messages":        msgs,
	})
}

// List replies with the user's conversations, most recently active first.
func (s *ChatSession) List(limit int) {
	list, err := s.channel.Conversations(s.ctx, s.uid, limit)
	if err != nil {
		s.fail(EventList, err)
		return
	}
	views := make([]fiber.Map, 0, len(list))
	for _, summary := range list {
		views = append(views, controller.SummaryView(summary))
	}
	s.emit(EventList, fiber.Map{"conversations": views})
}

// Unsubscribe stops streaming a conversation and forgets it.
func (s *ChatSession) Unsubscribe(conversationID string) {
	s.mu.Lock()
	sub := s.subs[conversationID]
	delete(s.subs, conversationID)
	delete(s.open, conversationID)
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

// Close drops queued requests, ends every subscription and waits for the
// session's goroutines.
func (s *ChatSession) Close() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	subs := s.subs
	s.subs = make(map[string]*channel.Subscription)
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	for _, sub := range subs {
		sub.Cancel()
	}
	s.wg.Wait()
}
