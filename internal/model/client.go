package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Client owns the deposit wallet. ReservedAmount is the slice of Wallet
// currently held against open jobs; available = Wallet - ReservedAmount.
type Client struct {
	ID             string          `gorm:"primaryKey;size:36"`
	UserID         string          `gorm:"size:36;not null;uniqueIndex"`
	FullName       string          `gorm:"size:128"`
	Wallet         decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	ReservedAmount decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Version        uint64          `gorm:"not null;default:0"`
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime"`
}

func (Client) TableName() string { return "clients" }
