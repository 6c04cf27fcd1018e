package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type JobStatus string

const (
	JobOpen       JobStatus = "OPEN"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobCancelled  JobStatus = "CANCELLED"
	JobPaused     JobStatus = "PAUSED"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentReserved  PaymentStatus = "RESERVED"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

type PaymentMethod string

const (
	PayPlatform PaymentMethod = "PLATFORM"
	PayCash     PaymentMethod = "CASH"
)

type Job struct {
	ID                   string          `gorm:"primaryKey;size:36"`
	JobTitle             string          `gorm:"size:255;not null"`
	JobDescription       string          `gorm:"type:text"`
	JobCategory          string          `gorm:"size:64"`
	SkillsRequired       string          `gorm:"type:jsonb"`
	ClientID             string          `gorm:"size:36;not null;index"`
	AssignedFreelancerID *string         `gorm:"size:36;index"`
	ServiceID            *string         `gorm:"size:36"`
	BudgetAmount         decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	BirdFeeAmount        decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	AmountPaid           decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	PaymentMethod        PaymentMethod   `gorm:"size:16;not null;default:'PLATFORM'"`
	JobStatus            JobStatus       `gorm:"size:16;not null;default:'OPEN'"`
	PaymentStatus        PaymentStatus   `gorm:"size:16;not null;default:'PENDING'"`
	IsAmountReserved     bool            `gorm:"not null;default:false"`
	Location             string          `gorm:"size:255"`
	IsUrgent             bool            `gorm:"not null;default:false"`
	DeadlineDate         *time.Time
	AssignedAt           *time.Time
	CompletedAt          *time.Time
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

func (Job) TableName() string { return "jobs" }
