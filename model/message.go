package model

import (
	"sort"
	"strings"
	"unicode/utf8"

	"realtimechat/errs"
)

// MaxTextLength bounds a text body in runes.
const MaxTextLength = 4096

type DeliveryState string

const (
	StatePending DeliveryState = "pending"
	StateSent    DeliveryState = "sent"
	StateFailed  DeliveryState = "failed"
)

// Body is either text or a reference to an uploaded attachment.
type Body struct {
	Text          string `json:"text,omitempty"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
}

func TextBody(text string) Body { return Body{Text: text} }

func AttachmentBody(ref string) Body { return Body{AttachmentRef: ref} }

// Validate trims the body and checks that exactly one of text and attachment is set.
func (b Body) Validate() (Body, error) {
	b.Text = strings.TrimSpace(b.Text)
	b.AttachmentRef = strings.TrimSpace(b.AttachmentRef)
	switch {
	case b.Text == "" && b.AttachmentRef == "":
		return b, errs.Validation("message body is empty")
	case b.Text != "" && b.AttachmentRef != "":
		return b, errs.Validation("message carries both text and an attachment")
	case utf8.RuneCountInString(b.Text) > MaxTextLength:
		return b, errs.Validation("message text exceeds %d characters", MaxTextLength)
	}
	return b, nil
}

// Message belongs to one conversation. Seq and Timestamp are assigned by the
// backend; a sent message is never modified afterwards.
type Message struct {
	ID             string        `gorm:"primaryKey" json:"id"`
	ConversationID string        `gorm:"not null;index:idx_message_order,priority:1;uniqueIndex:idx_message_client,priority:1" json:"conversation_id"`
	Timestamp      int64         `gorm:"not null;index:idx_message_order,priority:2" json:"timestamp"`
	Seq            uint64        `gorm:"not null;index:idx_message_order,priority:3" json:"seq"`
	ClientID       string        `gorm:"not null;uniqueIndex:idx_message_client,priority:2" json:"client_id"`
	ClientSeq      uint64        `gorm:"not null" json:"client_seq"`
	SenderID       string        `gorm:"not null" json:"sender_id"`
	Body           Body          `gorm:"embedded;embeddedPrefix:body_" json:"body"`
	State          DeliveryState `gorm:"-" json:"state"`
	FailReason     string        `gorm:"-" json:"fail_reason,omitempty"`
}

// Less orders messages by server timestamp, breaking ties with the sequence counter.
func Less(a, b Message) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Seq < b.Seq
}

// SortMessages sorts in display order.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return Less(msgs[i], msgs[j]) })
}
