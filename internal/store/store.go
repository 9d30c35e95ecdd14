// Package store persists historical turn metrics so !ps's cumulative
// cost/token display survives a gateway restart. It is additive to C1's
// queue (which stays a pure filesystem FIFO, see DESIGN.md OQ-1) — this
// package never backs the queue itself.
package store

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TurnRecord is one completed Agent turn, recorded regardless of whether
// it succeeded, failed, or was killed.
type TurnRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ChannelID  string `gorm:"size:64;index"`
	SessionID  string `gorm:"size:64;index"`
	Persistent bool
	CostUSD    float64
	Tokens     int
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string `gorm:"type:text"`
}

// Store wraps a GORM handle scoped to telegate's metrics tables.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) a SQLite database at path and migrates
// the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&TurnRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordTurn inserts one completed turn's metrics.
func (s *Store) RecordTurn(rec TurnRecord) error {
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("store: record turn: %w", err)
	}
	return nil
}

// ChannelTotals is the all-time cumulative cost/tokens/turn-count for one
// channel, used to seed !ps's display across restarts.
type ChannelTotals struct {
	ChannelID   string
	TotalCost   float64
	TotalTokens int
	TurnCount   int
}

// Totals returns cumulative totals for the given channel across every
// recorded turn, including ones from prior gateway runs.
func (s *Store) Totals(channelID string) (ChannelTotals, error) {
	var t ChannelTotals
	t.ChannelID = channelID
	row := s.db.Model(&TurnRecord{}).
		Select("COALESCE(SUM(cost_usd),0) as total_cost, COALESCE(SUM(tokens),0) as total_tokens, COUNT(*) as turn_count").
		Where("channel_id = ?", channelID).
		Row()
	if err := row.Scan(&t.TotalCost, &t.TotalTokens, &t.TurnCount); err != nil {
		return ChannelTotals{}, fmt.Errorf("store: totals for %s: %w", channelID, err)
	}
	return t, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
