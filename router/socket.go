package router

import (
	"math"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/zishang520/socket.io/v2/socket"

	"realtimechat/channel"
	"realtimechat/errs"
	"realtimechat/model"
)

// Socket binds chat events for every authenticated connection.
func Socket(server *socket.Server, ch *channel.Channel, notify Notifier, log zerolog.Logger) {
	log = log.With().Str("component", "socket").Logger()

	server.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)

		uid, _ := client.Data().(string)
		if uid == "" {
			client.Emit(EventError, ChatError{Event: "connection", Message: errs.Status(errs.ErrUnauthenticated)})
			client.Disconnect(true)
			return
		}

		session := NewChatSession(uid, ch, func(event string, payload any) {
			client.Emit(event, payload)
		}, notify, log.With().Str("socket", string(client.Id())).Logger())

		// Requests run one at a time in arrival order, so a send right
		// after an open finds the conversation open.
		client.On(EventOpen, func(args ...any) {
			peer := argString(args, 0)
			session.Enqueue(EventOpen, func() { session.Open(peer) })
		})

		client.On(EventSend, func(args ...any) {
			id, body := argString(args, 0), argBody(args, 1)
			session.Enqueue(EventSend, func() { session.Send(id, body) })
		})

		client.On(EventLoadOlder, func(args ...any) {
			id := argString(args, 0)
			before := argInt(args, 1, math.MaxInt64)
			limit := int(argInt(args, 2, channel.DefaultHistoryLimit))
			session.Enqueue(EventLoadOlder, func() { session.LoadOlder(id, before, limit) })
		})

		client.On(EventList, func(args ...any) {
			limit := int(argInt(args, 0, channel.DefaultPageLimit))
			session.Enqueue(EventList, func() { session.List(limit) })
		})

		client.On(EventUnsubscribe, func(args ...any) {
			id := argString(args, 0)
			session.Enqueue(EventUnsubscribe, func() { session.Unsubscribe(id) })
		})

		client.On("disconnect", func(...any) {
			go session.Close()
		})
	})
}

func argString(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	switch v := args[i].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func argInt(args []any, i int, def int64) int64 {
	if i >= len(args) {
		return def
	}
	switch v := args[i].(type) {
	case float64:
		switch {
		case math.IsNaN(v):
			return def
		case v >= math.MaxInt64:
			return math.MaxInt64
		case v <= math.MinInt64:
			return math.MinInt64
		}
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// argBody accepts either plain text or an object with text or attachment_ref.
func argBody(args []any, i int) model.Body {
	if i >= len(args) {
		return model.Body{}
	}
	switch v := args[i].(type) {
	case string:
		return model.TextBody(v)
	case map[string]any:
		text, _ := v["text"].(string)
		ref, _ := v["attachment_ref"].(string)
		return model.Body{Text: text, AttachmentRef: ref}
	default:
		return model.Body{}
	}
}
