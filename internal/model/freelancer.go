package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Freelancer earnings ledger. WithdrawableAmount may go negative: a cash-paid
// job deducts the platform fee post-hoc and the freelancer carries the debt
// until settled.
type Freelancer struct {
	ID                 string          `gorm:"primaryKey;size:36"`
	UserID             string          `gorm:"size:36;not null;uniqueIndex"`
	FullName           string          `gorm:"size:128"`
	WithdrawableAmount decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	TotalEarnings      decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	MonthlyEarnings    decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Version            uint64          `gorm:"not null;default:0"`
	CreatedAt          time.Time       `gorm:"autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime"`
}

func (Freelancer) TableName() string { return "freelancers" }
