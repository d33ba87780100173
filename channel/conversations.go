package channel

import (
	"context"
	"math"
	"strings"

	"realtimechat/errs"
	"realtimechat/model"
	"realtimechat/retry"
)

// Summary is one row of a user's conversation list.
type Summary struct {
	Conversation model.Conversation
	Peer         string
	// Last is the most recent message.
	Last *model.Message
}

// Conversations lists the conversations self has exchanged messages in,
// most recently active first, each with its latest message.
func (c *Channel) Conversations(ctx context.Context, self string, limit int) ([]Summary, error) {
	if strings.TrimSpace(self) == "" {
		return nil, errs.ErrUnauthenticated
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxLoadLimit {
		limit = MaxLoadLimit
	}

	var convs []model.Conversation
	err := retry.Do(ctx, c.opts.ReadPolicy, func(ctx context.Context) error {
		var err error
		convs, err = c.docs.ListConversations(ctx, self, limit)
		return err
	}, retry.WithSleeper(c.opts.Sleep), retry.WithLogger(c.log, "conversations.list")).Err()
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(convs))
	for _, conv := range convs {
		var last []model.Message
		err := retry.Do(ctx, c.opts.ReadPolicy, func(ctx context.Context) error {
			var err error
			last, err = c.docs.MessagesBefore(ctx, conv.ID, math.MaxInt64, 1)
			return err
		}, retry.WithSleeper(c.opts.Sleep), retry.WithLogger(c.log, "conversations.last")).Err()
		if err != nil {
			return nil, err
		}
		summary := Summary{Conversation: conv, Peer: conv.Peer(self)}
		if len(last) > 0 {
			m := last[len(last)-1]
			m.State = model.StateSent
			summary.Last = &m
		}
		out = append(out, summary)
	}
	return out, nil
}
