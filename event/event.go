// Package event carries domain events from the backend adapters to the broker.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// ActionHeader names the message header holding the event action.
const ActionHeader = "x-action"

const (
	ActionMessageCreated      = "message.created"
	ActionProfileUpserted     = "profile.upserted"
	ActionAttachmentPublished = "attachment.published"
	ActionAccountCreated      = "account.created"
)

type Event struct {
	Action string
	Data   []byte
	Time   time.Time
}

// Emitter publishes domain events. Emit failures never undo the change that caused them.
type Emitter interface {
	Emit(ctx context.Context, action string, payload any) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Emit(context.Context, string, any) error { return nil }

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, action string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, Event{Action: action, Data: data, Time: time.Now()})
	r.mu.Unlock()
	return nil
}

// Actions returns the recorded actions in emit order.
func (r *Recorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
