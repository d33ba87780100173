package database

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"realtimechat/backend"
	"realtimechat/errs"
	"realtimechat/event"
	"realtimechat/model"
)

// Store is the gorm backed document and object store.
type Store struct {
	db        *gorm.DB
	publisher backend.Publisher
	events    event.Emitter
	log       zerolog.Logger
	publicURL string

	// Now is the server clock used to stamp messages.
	Now func() time.Time
}

var (
	_ backend.Documents = (*Store)(nil)
	_ backend.Objects   = (*Store)(nil)
)

// NewStore builds a Store. Committed messages are handed to publisher; events may be nil.
func NewStore(db *gorm.DB, publisher backend.Publisher, events event.Emitter, publicURL string, log zerolog.Logger) *Store {
	if events == nil {
		events = event.Nop{}
	}
	return &Store{
		db:        db,
		publisher: publisher,
		events:    events,
		log:       log,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		Now:       time.Now,
	}
}

func (s *Store) emit(ctx context.Context, action string, payload any) {
	if err := s.events.Emit(ctx, action, payload); err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("event not emitted")
	}
}

func (s *Store) GetProfile(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	return u, classify(err, "profile", id)
}

func (s *Store) ListProfiles(ctx context.Context, q backend.ProfileQuery) ([]model.User, error) {
	tx := s.db.WithContext(ctx).Where("id > ?", q.After)
	if q.Excluding != "" {
		tx = tx.Where("id <> ?", q.Excluding)
	}
	if !q.AsOf.IsZero() {
		tx = tx.Where("created_at <= ?", q.AsOf)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var users []model.User
	err := tx.Order("id asc").Find(&users).Error
	return users, classify(err, "profiles", "")
}

func (s *Store) UpsertProfile(ctx context.Context, u model.User) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"handle", "email", "avatar_ref", "updated_at"}),
	}).Create(&u).Error
	if err != nil {
		return classify(err, "profile", u.ID)
	}
	s.emit(ctx, event.ActionProfileUpserted, u)
	return nil
}

func (s *Store) EnsureConversation(ctx context.Context, c model.Conversation) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&c).Error
	return classify(err, "conversation", c.ID)
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	var c model.Conversation
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	return c, classify(err, "conversation", id)
}

// ListConversations matches member against the sorted member list. LIKE
// wildcards in ids may over-match, so rows are checked again in Go.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// ListConversations returns the conversations of member that carry at least
// one message, most recently active first.
func (s *Store) ListConversations(ctx context.Context, member string, limit int) ([]model.Conversation, error) {
	tx := s.db.WithContext(ctx).
		Where("last_seq > 0").
		Where(`members LIKE ? ESCAPE '\' OR members LIKE ? ESCAPE '\'`, likeEscaper.Replace(member)+",%", "%,"+likeEscaper.Replace(member)).
		Order("last_timestamp desc").
		Order("id asc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []model.Conversation
	if err := tx.Find(&rows).Error; err != nil {
		return nil, classify(err, "conversations", member)
	}
	convs := rows[:0]
	for _, c := range rows {
		if c.HasMember(member) {
			convs = append(convs, c)
		}
	}
	return convs, nil
}

// AppendMessage sequences m under a row lock on its conversation, so Seq and
// Timestamp grow together, then publishes it once committed.
func (s *Store) AppendMessage(ctx context.Context, m model.Message) (model.Message, error) {
	var (
		stored    model.Message
		duplicate bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv model.Conversation
		lookup := tx
		if tx.Dialector.Name() == "postgres" {
			lookup = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := lookup.First(&conv, "id = ?", m.ConversationID).Error; err != nil {
			return classify(err, "conversation", m.ConversationID)
		}
		if !slices.Contains(conv.Participants(), m.SenderID) {
			return errs.Validation("%s is not a participant of this conversation", m.SenderID)
		}

		if m.ClientID != "" {
			var existing []model.Message
			if err := tx.Where("conversation_id = ? AND client_id = ?", m.ConversationID, m.ClientID).
				Limit(1).Find(&existing).Error; err != nil {
				return err
			}
			if len(existing) > 0 {
				stored, duplicate = existing[0], true
				return nil
			}
		} else {
			m.ClientID = uuid.NewString()
		}

		ts := s.Now().UnixMilli()
		if ts < conv.LastTimestamp {
			ts = conv.LastTimestamp
		}
		m.ID = uuid.NewString()
		m.Seq = conv.LastSeq + 1
		m.Timestamp = ts
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conv.ID).Updates(map[string]any{
			"last_seq":       m.Seq,
			"last_timestamp": m.Timestamp,
		}).Error; err != nil {
			return err
		}
		stored = m
		return nil
	})
	if err != nil {
		return model.Message{}, classify(err, "conversation", m.ConversationID)
	}

	stored.State = model.StateSent
	stored.FailReason = ""
	if duplicate {
		return stored, nil
	}

	if s.publisher != nil {
		// subscribers recover a lost notification through their seq gap check or catch-up tick
		if err := s.publisher.Publish(ctx, stored); err != nil {
			s.log.Warn().Err(err).Str("conversation", stored.ConversationID).Uint64("seq", stored.Seq).Msg("message not published")
		}
	}
	s.emit(ctx, event.ActionMessageCreated, stored)
	return stored, nil
}

func (s *Store) MessagesBefore(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error) {
	var msgs []model.Message
	tx := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Where(clause.Lt{Column: clause.Column{Name: "timestamp"}, Value: before}).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "timestamp"}, Desc: true},
			{Column: clause.Column{Name: "seq"}, Desc: true},
		}})
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, classify(err, "conversation", conversationID)
	}
	slices.Reverse(msgs)
	markSent(msgs)
	return msgs, nil
}

func (s *Store) MessagesAfter(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]model.Message, error) {
	var msgs []model.Message
	tx := s.db.WithContext(ctx).
		Where("conversation_id = ? AND seq > ?", conversationID, afterSeq).
		Order("seq asc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, classify(err, "conversation", conversationID)
	}
	markSent(msgs)
	return msgs, nil
}

func markSent(msgs []model.Message) {
	for i := range msgs {
		msgs[i].State = model.StateSent
	}
}
