package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ChatStatus string

const (
	ChatPending  ChatStatus = "PENDING"
	ChatAccepted ChatStatus = "ACCEPTED"
	ChatRejected ChatStatus = "REJECTED"
	ChatBlocked  ChatStatus = "BLOCKED"
)

type ChatThread struct {
	ID             string     `gorm:"primaryKey;size:36"`
	JobID          string     `gorm:"size:36;not null;index"`
	FreelancerID   string     `gorm:"size:36;not null;index"`
	ClientID       string     `gorm:"size:36;not null;index"`
	Status         ChatStatus `gorm:"size:16;not null;default:'PENDING'"`
	CharacterLimit int        `gorm:"not null;default:500"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

func (ChatThread) TableName() string { return "chat_threads" }

type MessageType string

const (
	MsgText          MessageType = "text"
	MsgNotification  MessageType = "notification"
	MsgCompletionReq MessageType = "completion_request"
	MsgCashPayment   MessageType = "cash_payment"
	MsgReviewRequest MessageType = "review_request"
)

// Message is the chat log. Payment handshake state lives in PaymentHandshake;
// specially-typed messages here are display artifacts only.
type Message struct {
	ID             string      `gorm:"primaryKey;size:36"`
	ChatThreadID   string      `gorm:"size:36;not null;index"`
	SenderID       string      `gorm:"size:36;not null"`
	ReceiverID     string      `gorm:"size:36;not null"`
	SenderType     string      `gorm:"size:16"`
	MessageType    MessageType `gorm:"size:32;not null;default:'text'"`
	MessageContent string      `gorm:"type:text"`
	HandshakeID    *string     `gorm:"size:36"`
	CreatedAt      time.Time   `gorm:"autoCreateTime"`
}

func (Message) TableName() string { return "messages" }

type HandshakeState string

const (
	HandshakePending         HandshakeState = "PENDING"
	HandshakeConfirmed       HandshakeState = "CONFIRMED"
	HandshakeCashInitiated   HandshakeState = "CASH_INITIATED"
	HandshakeClientConfirmed HandshakeState = "CASH_CLIENT_CONFIRMED"
	HandshakeCompleted       HandshakeState = "COMPLETED"
	HandshakeSettled         HandshakeState = "PLATFORM_SETTLED"
	HandshakeClosed          HandshakeState = "CLOSED"
)

// PaymentHandshake is the two-party completion protocol as a first-class row.
// At most one non-CLOSED handshake exists per thread; each transition checks
// the persisted state before applying, which serializes the two unsynchronized
// confirmations.
//
// Platform path: PENDING -> CONFIRMED -> PLATFORM_SETTLED.
// Cash path:     PENDING -> CASH_INITIATED ->
//                CASH_CLIENT_CONFIRMED -> COMPLETED.
type PaymentHandshake struct {
	ID            string          `gorm:"primaryKey;size:36"`
	ThreadID      string          `gorm:"size:36;not null;index"`
	JobID         string          `gorm:"size:36;not null;index"`
	RequestedBy   string          `gorm:"size:36;not null"`
	PaymentMethod PaymentMethod   `gorm:"size:16;not null"`
	BudgetAmount  decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	State         HandshakeState  `gorm:"size:32;not null;default:'PENDING'"`
	ConfirmedBy   *string         `gorm:"size:36"`
	ConfirmedAt   *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (PaymentHandshake) TableName() string { return "payment_handshakes" }
