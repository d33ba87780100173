package backend

import (
	"errors"
	"sync"

	"realtimechat/errs"
	"realtimechat/model"
)

// ErrWatcherBehind ends a watch whose reader stopped keeping up.
var ErrWatcherBehind = errors.New("watcher fell behind")

// Fanout multiplexes watches over a single upstream. A watch that cannot take
// a message without blocking is ended, so one slow reader never stalls the rest.
type Fanout struct {
	mu       sync.Mutex
	watchers map[string]map[*fanoutWatch]struct{}
	onIdle   func(conversationID string)
}

// NewFanout builds a Fanout. onIdle, if set, runs after the last watch of a
// conversation has ended, without any Fanout lock held.
func NewFanout(onIdle func(conversationID string)) *Fanout {
	return &Fanout{
		watchers: make(map[string]map[*fanoutWatch]struct{}),
		onIdle:   onIdle,
	}
}

// Add registers a watch on conversationID with room for buffer undelivered messages.
func (f *Fanout) Add(conversationID string, buffer int) Watch {
	if buffer <= 0 {
		buffer = 1
	}
	w := &fanoutWatch{fanout: f, conv: conversationID, ch: make(chan model.Message, buffer)}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchers[conversationID] == nil {
		f.watchers[conversationID] = make(map[*fanoutWatch]struct{})
	}
	f.watchers[conversationID][w] = struct{}{}
	return w
}

// Count returns the number of open watches on conversationID.
func (f *Fanout) Count(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers[conversationID])
}

// Dispatch offers m to every watch of its conversation.
func (f *Fanout) Dispatch(m model.Message) {
	f.mu.Lock()
	idle := false
	for w := range f.watchers[m.ConversationID] {
		select {
		case w.ch <- m:
		default:
			idle = f.endLocked(w, errs.Unavailable(ErrWatcherBehind)) || idle
		}
	}
	f.mu.Unlock()
	if idle {
		f.idle(m.ConversationID)
	}
}

// End ends every watch on conversationID with err.
func (f *Fanout) End(conversationID string, err error) {
	f.mu.Lock()
	idle := false
	for w := range f.watchers[conversationID] {
		idle = f.endLocked(w, err) || idle
	}
	f.mu.Unlock()
	if idle {
		f.idle(conversationID)
	}
}

// EndAll ends every watch with err.
func (f *Fanout) EndAll(err error) {
	f.mu.Lock()
	var idle []string
	for conv, set := range f.watchers {
		for w := range set {
			if f.endLocked(w, err) {
				idle = append(idle, conv)
			}
		}
	}
	f.mu.Unlock()
	for _, conv := range idle {
		f.idle(conv)
	}
}

func (f *Fanout) idle(conversationID string) {
	if f.onIdle != nil {
		f.onIdle(conversationID)
	}
}

// endLocked closes w and reports whether its conversation has no watches left.
func (f *Fanout) endLocked(w *fanoutWatch, err error) bool {
	set := f.watchers[w.conv]
	if _, ok := set[w]; !ok {
		return false
	}
	delete(set, w)
	w.err = err
	close(w.ch)
	if len(set) == 0 {
		delete(f.watchers, w.conv)
		return true
	}
	return false
}

type fanoutWatch struct {
	fanout *Fanout
	conv   string
	ch     chan model.Message
	err    error
}

func (w *fanoutWatch) Updates() <-chan model.Message { return w.ch }

func (w *fanoutWatch) Err() error {
	w.fanout.mu.Lock()
	defer w.fanout.mu.Unlock()
	return w.err
}

func (w *fanoutWatch) Close() {
	w.fanout.mu.Lock()
	idle := w.fanout.endLocked(w, nil)
	w.fanout.mu.Unlock()
	if idle {
		w.fanout.idle(w.conv)
	}
}
