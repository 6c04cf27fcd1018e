package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/birdworks/escrow-service/internal/model"
)

// ErrVersionConflict means the optimistic version check failed on a balance
// write; the enclosing transaction fails as a whole.
var ErrVersionConflict = errors.New("optimistic lock conflict")

// RepositoryInterface restricts Repo methods (unit-test mocking seam).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetClientForUpdate(ctx context.Context, tx *gorm.DB, clientID string) (*model.Client, error)
	GetClientByUserForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Client, error)
	GetFreelancerForUpdate(ctx context.Context, tx *gorm.DB, freelancerID string) (*model.Freelancer, error)
	GetFreelancerByUserForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Freelancer, error)
	GetJobForUpdate(ctx context.Context, tx *gorm.DB, jobID string) (*model.Job, error)
	GetHandshakeForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.PaymentHandshake, error)
	GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.WithdrawalRequest, error)
	UpdateClientBalances(ctx context.Context, tx *gorm.DB, clientID string, wallet, reserved decimal.Decimal, oldVersion uint64) error
	UpdateFreelancerBalances(ctx context.Context, tx *gorm.DB, freelancerID string, withdrawable, total, monthly decimal.Decimal, oldVersion uint64) error
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction) error
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheBalance(ctx context.Context, userID string, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

func lockFirst(ctx context.Context, tx *gorm.DB, dest interface{}, query string, args ...interface{}) error {
	return tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(query, args...).First(dest).Error
}

// GetClientForUpdate locks the client row for a read-modify-write.
func (r *Repository) GetClientForUpdate(ctx context.Context, tx *gorm.DB, clientID string) (*model.Client, error) {
	var c model.Client
	if err := lockFirst(ctx, tx, &c, "id = ?", clientID); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClientByUserForUpdate locks the client row addressed by user id.
func (r *Repository) GetClientByUserForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Client, error) {
	var c model.Client
	if err := lockFirst(ctx, tx, &c, "user_id = ?", userID); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetFreelancerForUpdate locks the freelancer row.
func (r *Repository) GetFreelancerForUpdate(ctx context.Context, tx *gorm.DB, freelancerID string) (*model.Freelancer, error) {
	var f model.Freelancer
	if err := lockFirst(ctx, tx, &f, "id = ?", freelancerID); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFreelancerByUserForUpdate locks the freelancer row addressed by user id.
func (r *Repository) GetFreelancerByUserForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Freelancer, error) {
	var f model.Freelancer
	if err := lockFirst(ctx, tx, &f, "user_id = ?", userID); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetJobForUpdate locks the job row so the reservation and payment guards
// run against the same snapshot they commit on.
func (r *Repository) GetJobForUpdate(ctx context.Context, tx *gorm.DB, jobID string) (*model.Job, error) {
	var j model.Job
	if err := lockFirst(ctx, tx, &j, "id = ?", jobID); err != nil {
		return nil, err
	}
	return &j, nil
}

// GetHandshakeForUpdate locks a payment handshake row; the state guard on the
// locked row serializes the two-party confirmation protocol.
func (r *Repository) GetHandshakeForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.PaymentHandshake, error) {
	var h model.PaymentHandshake
	if err := lockFirst(ctx, tx, &h, "id = ?", id); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetWithdrawalForUpdate locks a withdrawal request row.
func (r *Repository) GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	if err := lockFirst(ctx, tx, &w, "id = ?", id); err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateClientBalances writes wallet and reserved with optimistic lock.
func (r *Repository) UpdateClientBalances(ctx context.Context, tx *gorm.DB, clientID string, wallet, reserved decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Client{}).
		Where("id = ? AND version = ?", clientID, oldVersion).
		Updates(map[string]interface{}{
			"wallet":          wallet,
			"reserved_amount": reserved,
			"version":         oldVersion + 1,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// UpdateFreelancerBalances writes the three earning figures with optimistic lock.
func (r *Repository) UpdateFreelancerBalances(ctx context.Context, tx *gorm.DB, freelancerID string, withdrawable, total, monthly decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Freelancer{}).
		Where("id = ? AND version = ?", freelancerID, oldVersion).
		Updates(map[string]interface{}{
			"withdrawable_amount": withdrawable,
			"total_earnings":      total,
			"monthly_earnings":    monthly,
			"version":             oldVersion + 1,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// CreateTransaction inserts an audit row.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes the user's headline balance to Redis.
func (r *Repository) CacheBalance(ctx context.Context, userID string, bal decimal.Decimal) error {
	return r.rdb.Set(ctx, "balance:"+userID, bal.String(), 5*time.Minute).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, "balance:"+userID).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
