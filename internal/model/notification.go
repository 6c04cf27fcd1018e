package model

import "time"

type Notification struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"size:36;not null;index"`
	UserType  string    `gorm:"size:16;not null"`
	Title     string    `gorm:"size:255;not null"`
	Message   string    `gorm:"type:text"`
	Type      string    `gorm:"size:32;not null"`
	Data      string    `gorm:"type:jsonb"`
	IsRead    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Notification) TableName() string { return "notifications" }
