package models

import (
	"time"
)

// Character is a persona a user converses with
type Character struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	Name             string    `json:"name" gorm:"size:100;not null"`
	Avatar           string    `json:"avatar"`
	SystemPrompt     string    `json:"systemPrompt" gorm:"type:text;not null"`
	Greeting         string    `json:"greeting" gorm:"type:text"`
	Description      string    `json:"description" gorm:"type:text"`
	Tags             []string  `json:"tags" gorm:"serializer:json"`
	PreferredModel   string    `json:"preferredModel" gorm:"size:100"`
	Temperature      float64   `json:"temperature"`
	MaxTokens        int       `json:"maxTokens"`
	ExampleDialogues string    `json:"exampleDialogues,omitempty" gorm:"type:text"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Character defaults applied when a create request leaves a field unset
const (
	DefaultPreferredModel = "gpt-4o-mini"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 2000
)

type CreateCharacterRequest struct {
	Name             string   `json:"name" binding:"required,max=100"`
	Avatar           string   `json:"avatar"`
	SystemPrompt     string   `json:"systemPrompt" binding:"required"`
	Greeting         string   `json:"greeting"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	PreferredModel   string   `json:"preferredModel"`
	Temperature      *float64 `json:"temperature" binding:"omitempty,min=0,max=2"`
	MaxTokens        *int     `json:"maxTokens" binding:"omitempty,min=1,max=32000"`
	ExampleDialogues string   `json:"exampleDialogues"`
}

// UpdateCharacterRequest is a partial update; nil fields are left untouched
type UpdateCharacterRequest struct {
	Name             *string   `json:"name" binding:"omitempty,max=100"`
	Avatar           *string   `json:"avatar"`
	SystemPrompt     *string   `json:"systemPrompt"`
	Greeting         *string   `json:"greeting"`
	Description      *string   `json:"description"`
	Tags             *[]string `json:"tags"`
	PreferredModel   *string   `json:"preferredModel"`
	Temperature      *float64  `json:"temperature" binding:"omitempty,min=0,max=2"`
	MaxTokens        *int      `json:"maxTokens" binding:"omitempty,min=1,max=32000"`
	ExampleDialogues *string   `json:"exampleDialogues"`
}
