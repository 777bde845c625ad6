// Package store persists completed conversation turns so transcripts
// survive process restarts. The default backend is a local sqlite file;
// any GORM dialector works.
package store

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store persists sessions and their appended turns.
type Store interface {
	CreateSession(ctx context.Context, id, prompt string, demoMode bool) error
	SaveTurn(ctx context.Context, sessionID string, index int, prompt, output string) error
	ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error)
	Close() error
}

// SessionRecord is the persisted session row.
type SessionRecord struct {
	ID        string `gorm:"primaryKey"`
	Prompt    string
	DemoMode  bool
	CreatedAt time.Time
}

// TurnRecord is one appended turn.
type TurnRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index"`
	TurnIndex int
	Prompt    string
	Output    string
	CreatedAt time.Time
}

// GormStore implements Store on a GORM connection.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens the sqlite database at dsn (":memory:" works for tests)
// and migrates the schema.
func Open(dsn string, log *zap.Logger) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return New(db, log)
}

// New wraps an existing GORM connection and migrates the schema.
func New(db *gorm.DB, log *zap.Logger) (*GormStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.AutoMigrate(&SessionRecord{}, &TurnRecord{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, logger: log.With(zap.String("component", "store"))}, nil
}

// CreateSession inserts the session row.
func (s *GormStore) CreateSession(ctx context.Context, id, prompt string, demoMode bool) error {
	rec := SessionRecord{
		ID:        id,
		Prompt:    prompt,
		DemoMode:  demoMode,
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// SaveTurn appends one completed turn.
func (s *GormStore) SaveTurn(ctx context.Context, sessionID string, index int, prompt, output string) error {
	rec := TurnRecord{
		SessionID: sessionID,
		TurnIndex: index,
		Prompt:    prompt,
		Output:    output,
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// ListTurns returns a session's turns in turn order.
func (s *GormStore) ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	var out []TurnRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("turn_index asc").
		Find(&out).Error
	return out, err
}

// Close closes the underlying connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
