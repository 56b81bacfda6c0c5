package models

import "time"

// Term is one row of the school calendar. Session is the academic year key,
// e.g. "2024/2025"; Name is the term key inside it, e.g. "1".
type Term struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Session   string    `gorm:"not null;uniqueIndex:idx_session_term" json:"session"`
	Name      string    `gorm:"not null;uniqueIndex:idx_session_term" json:"term"`
	StartDate time.Time `gorm:"type:date;not null" json:"start"`
	EndDate   time.Time `gorm:"type:date;not null" json:"end"`
}

// SessionSnapshot mirrors a portal session so it can be hydrated after a restart.
type SessionSnapshot struct {
	ID        string `gorm:"primaryKey;size:36"`
	Token     string `gorm:"not null"`
	UserJSON  []byte `gorm:"type:jsonb"`
	Authed    bool
	UpdatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}
