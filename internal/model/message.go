package model

import "time"

// Message is one side of a chat exchange, persisted asynchronously for the
// history endpoint. Role is "user" or "assistant".
type Message struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	DocumentID string    `gorm:"size:36;index" json:"document_id"`
	Role       string    `gorm:"size:16;not null" json:"role"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}
