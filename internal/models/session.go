package models

import (
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is one conversation thread, keyed by an opaque client-visible key
type Session struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	SessionKey  string    `json:"sessionKey" gorm:"size:100;uniqueIndex;not null"`
	CharacterID uint      `json:"characterId" gorm:"index;not null"`
	Messages    []Message `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"index"`
}

// Message is append-only and owned by its Session
type Message struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	SessionID uint      `json:"sessionId" gorm:"index;not null"`
	Role      string    `json:"role" gorm:"size:20;not null"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	ImageURL  *string   `json:"imageUrl"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}
