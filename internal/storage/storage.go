// Package storage persists chat messages and serves recent history. The core
// consumes it through the MessageStore interface; the default implementation
// is backed by SQLite through GORM.
package storage

import (
	"context"
	"time"
)

// Message is one stored chat message.
type Message struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	RoomID    string    `gorm:"index" json:"room_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// MessageStore is the persistence collaborator consumed by the message
// distribution core.
type MessageStore interface {
	// Save stores a message, assigning an id and timestamp when absent,
	// and returns the stored record.
	Save(ctx context.Context, msg *Message) (*Message, error)
	// Recent returns up to limit messages in chronological order,
	// restricted to one room when roomID is non-empty.
	Recent(ctx context.Context, limit int, roomID string) ([]*Message, error)
}
