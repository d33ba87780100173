package channel

import "realtimechat/model"

// State is the connection state of a subscription.
type State int

const (
	Disconnected State = iota
	Connecting
	Synced
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	// EventMessage carries a stored message, in (Timestamp, Seq) order.
	EventMessage EventKind = iota + 1
	// EventPending announces a local send before the backend has acknowledged it.
	EventPending
	// EventSent resolves a pending send with its server Seq and Timestamp.
	EventSent
	// EventFailed resolves a pending send that exhausted its retries.
	EventFailed
	// EventState reports a connection state change; Err holds the cause of a disconnect.
	EventState
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventPending:
		return "pending"
	case EventSent:
		return "sent"
	case EventFailed:
		return "failed"
	case EventState:
		return "state"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind    EventKind
	Message model.Message
	State   State
	Err     error
}
