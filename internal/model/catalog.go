package model

import "time"

// Service is a marketplace category carrying per-service business rules:
// the tiered bird-fee brackets and optional priority threshold overrides,
// both stored as JSON config.
type Service struct {
	ID             string    `gorm:"primaryKey;size:36"`
	Name           string    `gorm:"size:128;not null"`
	Category       string    `gorm:"size:32"`
	BirdFee        *string   `gorm:"type:jsonb"`
	PriorityConfig *string   `gorm:"type:jsonb"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (Service) TableName() string { return "services" }
