package models

import (
	"time"
)

// Supported provider tags. Every provider is reached through an OpenAI-compatible endpoint.
var Providers = []string{"openai", "anthropic", "google", "alibaba", "deepseek", "zhipu"}

// ModelConfig is a provider/model credential set. APIKey holds ciphertext only.
type ModelConfig struct {
	ID                 uint      `gorm:"primaryKey"`
	Name               string    `gorm:"size:100;not null"`
	ModelID            string    `gorm:"size:100;uniqueIndex;not null"`
	Provider           string    `gorm:"size:50;not null"`
	APIKey             string    `gorm:"type:text;not null"`
	BaseURL            string    `gorm:"size:255;not null"`
	IsEnabled          bool      `gorm:"not null"`
	DefaultTemperature float64
	DefaultMaxTokens   int
	Description        string    `gorm:"type:text"`
	SortOrder          int       `gorm:"not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ModelDto is the external projection; APIKey is always masked
type ModelDto struct {
	ID                 uint      `json:"id"`
	Name               string    `json:"name"`
	ModelID            string    `json:"modelId"`
	Provider           string    `json:"provider"`
	APIKeyMasked       string    `json:"apiKeyMasked"`
	BaseURL            string    `json:"baseURL"`
	IsEnabled          bool      `json:"isEnabled"`
	DefaultTemperature float64   `json:"defaultTemperature"`
	DefaultMaxTokens   int       `json:"defaultMaxTokens"`
	Description        string    `json:"description,omitempty"`
	SortOrder          int       `json:"sortOrder"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type CreateModelRequest struct {
	Name               string   `json:"name" binding:"required,max=100"`
	ModelID            string   `json:"modelId" binding:"required,max=100"`
	Provider           string   `json:"provider" binding:"required,oneof=openai anthropic google alibaba deepseek zhipu"`
	APIKey             string   `json:"apiKey" binding:"required,min=10"`
	BaseURL            string   `json:"baseURL" binding:"required,url"`
	IsEnabled          *bool    `json:"isEnabled"`
	DefaultTemperature *float64 `json:"defaultTemperature" binding:"omitempty,min=0,max=2"`
	DefaultMaxTokens   *int     `json:"defaultMaxTokens" binding:"omitempty,min=1,max=32000"`
	Description        string   `json:"description"`
	SortOrder          int      `json:"sortOrder"`
}

// UpdateModelRequest is a partial update; an empty APIKey keeps the stored key
type UpdateModelRequest struct {
	Name               *string  `json:"name" binding:"omitempty,max=100"`
	ModelID            *string  `json:"modelId" binding:"omitempty,max=100"`
	Provider           *string  `json:"provider" binding:"omitempty,oneof=openai anthropic google alibaba deepseek zhipu"`
	APIKey             *string  `json:"apiKey" binding:"omitempty,min=10"`
	BaseURL            *string  `json:"baseURL" binding:"omitempty,url"`
	IsEnabled          *bool    `json:"isEnabled"`
	DefaultTemperature *float64 `json:"defaultTemperature" binding:"omitempty,min=0,max=2"`
	DefaultMaxTokens   *int     `json:"defaultMaxTokens" binding:"omitempty,min=1,max=32000"`
	Description        *string  `json:"description"`
	SortOrder          *int     `json:"sortOrder"`
}

// TestConnectionResult reports a one-shot provider probe; never persisted
type TestConnectionResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
