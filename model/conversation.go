package model

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"time"

	"realtimechat/errs"
)

const memberSeparator = ","

// Conversation groups the messages exchanged by a fixed set of participants.
// LastSeq and LastTimestamp are maintained by the backend when it sequences messages.
type Conversation struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	Members       string    `gorm:"not null" json:"-"`
	LastSeq       uint64    `gorm:"not null;default:0" json:"last_seq"`
	LastTimestamp int64     `gorm:"not null;default:0" json:"last_timestamp"`
	CreatedAt     time.Time `json:"created"`
}

// NewConversation builds the two-party conversation between a and b.
func NewConversation(a, b string) (Conversation, error) {
	id, err := ConversationID(a, b)
	if err != nil {
		return Conversation{}, err
	}
	members := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	slices.Sort(members)
	return Conversation{ID: id, Members: strings.Join(members, memberSeparator)}, nil
}

// ConversationID derives a stable id from the participants, independent of their order,
// so both sides resolve the same conversation without a lookup.
func ConversationID(a, b string) (string, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", errs.Validation("conversation needs two participant ids")
	}
	if a == b {
		return "", errs.Validation("cannot open a conversation with yourself")
	}
	if strings.Contains(a, memberSeparator) || strings.Contains(b, memberSeparator) {
		return "", errs.Validation("participant ids may not contain %q", memberSeparator)
	}
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + "\x00" + b))
	return hex.EncodeToString(sum[:16]), nil
}

// Participants returns the member ids in sorted order.
func (c Conversation) Participants() []string {
	if c.Members == "" {
		return nil
	}
	return strings.Split(c.Members, memberSeparator)
}

func (c Conversation) HasMember(id string) bool {
	return slices.Contains(c.Participants(), id)
}

// Peer returns the participant that is not self.
func (c Conversation) Peer(self string) string {
	for _, p := range c.Participants() {
		if p != self {
			return p
		}
	}
	return ""
}
