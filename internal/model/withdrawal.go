package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalApproved  WithdrawalStatus = "APPROVED"
	WithdrawalProcessed WithdrawalStatus = "PROCESSED"
	WithdrawalRejected  WithdrawalStatus = "REJECTED"
)

// WithdrawalRequest holds a pessimistic hold on freelancer funds: the amount
// is debited at creation and restored only on a PENDING -> REJECTED
// transition.
type WithdrawalRequest struct {
	ID           string           `gorm:"primaryKey;size:36"`
	FreelancerID string           `gorm:"size:36;not null;index"`
	Amount       decimal.Decimal  `gorm:"type:numeric(20,8);not null"`
	BankDetails  string           `gorm:"type:jsonb"`
	Status       WithdrawalStatus `gorm:"size:16;not null;default:'PENDING'"`
	ProcessedAt  *time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }
