package transcript

import "time"

type Entry struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"not null;index:idx_session_seq,unique" json:"session_id"`
	Seq       int64     `gorm:"not null;index:idx_session_seq,unique" json:"seq"`
	UserID    string    `gorm:"index" json:"user_id,omitempty"`
	Role      string    `gorm:"not null" json:"role"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	SpokenAt  time.Time `json:"spoken_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (Entry) TableName() string {
	return "transcript_entries"
}
