package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteStore is the GORM-backed MessageStore implementation.
type SQLiteStore struct {
	db *gorm.DB
}

var _ MessageStore = (*SQLiteStore)(nil)

// Open opens (or creates) the SQLite database at path and runs migrations.
// For an ephemeral store use a temp-file path or "file::memory:?cache=shared";
// a plain ":memory:" gives every pooled connection its own empty database.
func Open(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps an existing GORM handle. The caller is responsible for
// migrations.
func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save stores a message, assigning id and created-at when absent.
func (s *SQLiteStore) Save(ctx context.Context, msg *Message) (*Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

// Recent returns up to limit messages in chronological order, filtered by
// room when roomID is non-empty.
func (s *SQLiteStore) Recent(ctx context.Context, limit int, roomID string) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if roomID != "" {
		query = query.Where("room_id = ?", roomID)
	}

	var messages []*Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}

	// Newest-first from the query; flip to chronological for replay.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
