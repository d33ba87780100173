package database

import (
	"context"

	"gorm.io/gorm/clause"

	"realtimechat/event"
	"realtimechat/model"
)

var blobMeta = []string{"path", "owner_id", "sha256", "content_type", "size", "published", "created_at"}

// Put inserts the whole blob in a single statement, so it is either fully
// visible or absent. An existing path is left untouched.
func (s *Store) Put(ctx context.Context, blob model.AttachmentBlob) error {
	blob.Size = int64(len(blob.Data))
	blob.Published = true
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&blob)
	if res.Error != nil {
		return classify(res.Error, "object", blob.Path)
	}
	if res.RowsAffected > 0 {
		s.emit(ctx, event.ActionAttachmentPublished, blob)
	}
	return nil
}

func (s *Store) Stat(ctx context.Context, path string) (model.AttachmentBlob, error) {
	var blob model.AttachmentBlob
	err := s.db.WithContext(ctx).
		Select(blobMeta).
		Where("path = ? AND published = ?", path, true).
		First(&blob).Error
	return blob, classify(err, "object", path)
}

func (s *Store) Get(ctx context.Context, path string) (model.AttachmentBlob, error) {
	var blob model.AttachmentBlob
	err := s.db.WithContext(ctx).
		Where("path = ? AND published = ?", path, true).
		First(&blob).Error
	return blob, classify(err, "object", path)
}

// URL points at the attachment download route of this service.
func (s *Store) URL(ctx context.Context, path string) (string, error) {
	if _, err := s.Stat(ctx, path); err != nil {
		return "", err
	}
	return s.publicURL + "/v1/" + path, nil
}
