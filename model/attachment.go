package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AttachmentBlob is an uploaded binary payload. Path is the reference handed to
// messages and profiles; the blob is immutable once Published.
type AttachmentBlob struct {
	Path        string    `gorm:"primaryKey" json:"ref"`
	OwnerID     string    `gorm:"not null;index" json:"owner"`
	SHA256      string    `gorm:"not null" json:"sha256"`
	ContentType string    `gorm:"not null" json:"content_type"`
	Size        int64     `gorm:"not null" json:"size"`
	Data        []byte    `json:"-"`
	Published   bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt   time.Time `json:"created"`
}

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AttachmentPath is the object path for a blob owned by owner with the given hash.
func AttachmentPath(owner, hash string) string {
	return "attachments/" + owner + "/" + hash
}
