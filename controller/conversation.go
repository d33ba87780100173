package controller

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"realtimechat/channel"
	"realtimechat/errs"
	"realtimechat/model"
)

// ConversationView is the client facing shape of a conversation.
func ConversationView(conv model.Conversation) fiber.Map {
	return fiber.Map{
		"id":           conv.ID,
		"participants": conv.Participants(),
	}
}

// SummaryView is the client facing shape of a conversation list entry.
func SummaryView(s channel.Summary) fiber.Map {
	view := ConversationView(s.Conversation)
	view["peer"] = s.Peer
	view["last_message"] = s.Last
	return view
}

// ConversationList returns the caller's conversations, most recently active first.
func (h *Controller) ConversationList(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", channel.DefaultPageLimit)
	if limit <= 0 {
		return failure(c, errs.Validation("limit must be positive"))
	}
	list, err := h.channel.Conversations(c.UserContext(), caller(c), limit)
	if err != nil {
		return failure(c, err)
	}
	views := make([]fiber.Map, 0, len(list))
	for _, s := range list {
		views = append(views, SummaryView(s))
	}
	return success(c, views)
}

// ConversationMessages pages backwards through the conversation with :peer.
func (h *Controller) ConversationMessages(c *fiber.Ctx) error {
	before := int64(math.MaxInt64)
	if raw := c.Query("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return failure(c, errs.Validation("before must be a millisecond timestamp"))
		}
		before = n
	}
	limit := c.QueryInt("limit", channel.DefaultHistoryLimit)

	ctx := c.UserContext()
	conv, err := h.channel.Open(ctx, caller(c), c.Params("peer"))
	if err != nil {
		return failure(c, err)
	}
	msgs, err := h.channel.LoadOlder(ctx, conv.ID, before, limit)
	if err != nil {
		return failure(c, err)
	}

	return success(c, fiber.Map{
		"conversation": ConversationView(conv),
		"messages":     msgs,
	})
}

// ConversationSend sends a message to :peer and waits until it is stored or
// its retries are exhausted.
func (h *Controller) ConversationSend(c *fiber.Ctx) error {
	body := new(model.Body)
	if err := c.BodyParser(body); err != nil {
		return failure(c, errs.Validation("review your input"))
	}

	ctx := c.UserContext()
	uid := caller(c)
	conv, err := h.channel.Open(ctx, uid, c.Params("peer"))
	if err != nil {
		return failure(c, err)
	}
	handle, err := h.channel.Send(conv.ID, uid, *body)
	if err != nil {
		return failure(c, err)
	}
	msg, err := handle.Wait(ctx)
	if err != nil {
		return failure(c, err)
	}
	return success(c, msg)
}
