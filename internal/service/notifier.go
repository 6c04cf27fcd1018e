package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/birdworks/escrow-service/internal/model"
	"github.com/birdworks/escrow-service/internal/repo"
)

// Notifier is the fire-and-forget event sink. Implementations must never
// fail the caller: ledger commit outcome is independent of delivery.
type Notifier interface {
	Notify(ctx context.Context, userID, userType, title, body, eventType string, payload map[string]interface{})
}

// OutboxNotifier persists a notification row plus an outbox event; the
// poller ships outbox rows to Kafka for downstream push delivery.
type OutboxNotifier struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func NewOutboxNotifier(r repo.RepositoryInterface, logger *zap.SugaredLogger) *OutboxNotifier {
	return &OutboxNotifier{repo: r, log: logger}
}

func (n *OutboxNotifier) Notify(ctx context.Context, userID, userType, title, body, eventType string, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	db := n.repo.DB(ctx)
	notif := &model.Notification{
		ID:       uuid.NewString(),
		UserID:   userID,
		UserType: userType,
		Title:    title,
		Message:  body,
		Type:     eventType,
		Data:     string(data),
	}
	if err := db.Create(notif).Error; err != nil {
		n.log.Warnf("persist notification for %s: %v", userID, err)
		return
	}
	evt := &model.OutboxEvent{
		Aggregate:   "Notification",
		AggregateID: notif.ID,
		EventType:   eventType,
		Payload:     string(data),
	}
	if err := n.repo.CreateOutboxEvent(ctx, db, evt); err != nil {
		n.log.Warnf("outbox event for %s: %v", userID, err)
	}
}
