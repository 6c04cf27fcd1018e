package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type UserType string

const (
	UserClient     UserType = "CLIENT"
	UserFreelancer UserType = "FREELANCER"
)

type TransactionType string

const (
	TxDeposit     TransactionType = "DEPOSIT"
	TxWithdrawal  TransactionType = "WITHDRAWAL"
	TxJobPayment  TransactionType = "JOB_PAYMENT"
	TxJobRefund   TransactionType = "JOB_REFUND"
	TxJobReserve  TransactionType = "JOB_RESERVE"
	TxJobRelease  TransactionType = "JOB_RELEASE"
	TxPenalty     TransactionType = "PENALTY"
	TxBonus       TransactionType = "BONUS"
	TxPlatformFee TransactionType = "PLATFORM_FEE"
)

// WalletTransaction is the append-only audit trail. Every balance mutation
// on a Client or Freelancer row inserts one of these in the same database
// transaction. Rows are never updated or deleted.
//
// Amount is signed: debits negative, credits positive. For JOB_RESERVE and
// JOB_RELEASE the before/after figures record the wallet total, which does
// not change; only the reserved slice moves.
type WalletTransaction struct {
	ID            string          `gorm:"primaryKey;size:36"`
	UserID        string          `gorm:"size:36;not null;index"`
	UserType      UserType        `gorm:"size:16;not null"`
	JobID         *string         `gorm:"size:36;index"`
	Type          TransactionType `gorm:"column:transaction_type;size:32;not null"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Description   string          `gorm:"size:255"`
	ReferenceID   *string         `gorm:"size:64"`
	CreatedAt     time.Time       `gorm:"autoCreateTime"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }
