package transcript

import (
	"context"

	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/eleven-am/voice-bridge/internal/shared"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Entry{})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Append stores finalized entries after the last one of the session, in
// the order given.
func (s *Store) Append(ctx context.Context, sessionID, userID string, entries ...live.Entry) ([]*Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	var saved []*Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int64
		if err := tx.Model(&Entry{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error; err != nil {
			return err
		}

		saved = make([]*Entry, 0, len(entries))
		for i, e := range entries {
			saved = append(saved, &Entry{
				ID:        shared.NewID("tr_"),
				SessionID: sessionID,
				Seq:       last + int64(i) + 1,
				UserID:    userID,
				Role:      string(e.Role),
				Text:      e.Text,
				SpokenAt:  e.Timestamp,
			})
		}
		return tx.Create(&saved).Error
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*Entry, error) {
	var entries []*Entry
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	err := q.Find(&entries).Error
	return entries, err
}

func (s *Store) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Entry{}).Where("session_id = ?", sessionID).Count(&n).Error
	return n, err
}

func (s *Store) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	result := s.db.WithContext(ctx).Delete(&Entry{}, "session_id = ?", sessionID)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
