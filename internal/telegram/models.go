package telegram

import "time"

// Session is a single-use pairing ticket handed out as a bot deep link.
type Session struct {
	Code      string    `json:"code" gorm:"primaryKey;size:64"`
	UserID    string    `json:"user_id" gorm:"size:64;not null;index"`
	OrgID     string    `json:"org_id" gorm:"size:64;not null"`
	Role      string    `json:"role" gorm:"size:32;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	Used      bool      `json:"used" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
}

func (Session) TableName() string { return "telegram_sessions" }

// Link binds a Telegram chat to a user. A chat belongs to one user; a user has
// at most one active link.
type Link struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    string    `json:"user_id" gorm:"size:64;not null;index:idx_telegram_links_user_active,priority:1"`
	OrgID     string    `json:"org_id" gorm:"size:64;not null;index"`
	ChatID    int64     `json:"chat_id" gorm:"not null;uniqueIndex"`
	Username  string    `json:"username,omitempty" gorm:"size:64"`
	FirstName string    `json:"first_name,omitempty" gorm:"size:128"`
	Active    bool      `json:"active" gorm:"not null;index:idx_telegram_links_user_active,priority:2"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Link) TableName() string { return "telegram_links" }

// User is the sender of an update as Telegram reports it.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// ConsumeResult is returned to the bot to personalize the greeting.
type ConsumeResult struct {
	Role   string `json:"role"`
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
}
