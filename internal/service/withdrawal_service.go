package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/birdworks/escrow-service/internal/model"
	"github.com/birdworks/escrow-service/internal/repo"
)

// WithdrawalService handles freelancer cash-out requests. Creation places a
// pessimistic hold: the amount leaves withdrawableAmount immediately and is
// restored only by a PENDING -> REJECTED transition.
type WithdrawalService struct {
	repo   repo.RepositoryInterface
	notify Notifier
	log    *zap.SugaredLogger
}

func NewWithdrawalService(r repo.RepositoryInterface, n Notifier, logger *zap.SugaredLogger) *WithdrawalService {
	return &WithdrawalService{repo: r, notify: n, log: logger}
}

// Create debits the freelancer and files a PENDING request in one transaction.
func (s *WithdrawalService) Create(ctx context.Context, freelancerUserID string, amount decimal.Decimal, bankDetails string) (*model.WithdrawalRequest, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	var req *model.WithdrawalRequest
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.GetFreelancerByUserForUpdate(ctx, tx, freelancerUserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFreelancerNotFound
			}
			return err
		}
		if f.WithdrawableAmount.LessThan(amount) {
			return insufficientErr(f.WithdrawableAmount, amount)
		}

		req = &model.WithdrawalRequest{
			ID:           uuid.NewString(),
			FreelancerID: f.ID,
			Amount:       amount,
			BankDetails:  bankDetails,
			Status:       model.WithdrawalPending,
		}
		if err := tx.Create(req).Error; err != nil {
			return err
		}

		newBalance := f.WithdrawableAmount.Sub(amount)
		if err := s.repo.UpdateFreelancerBalances(ctx, tx, f.ID,
			newBalance, f.TotalEarnings, f.MonthlyEarnings, f.Version); err != nil {
			return err
		}
		return s.repo.CreateTransaction(ctx, tx, &model.WalletTransaction{
			ID:            uuid.NewString(),
			UserID:        freelancerUserID,
			UserType:      model.UserFreelancer,
			Type:          model.TxWithdrawal,
			Amount:        amount.Neg(),
			BalanceBefore: f.WithdrawableAmount,
			BalanceAfter:  newBalance,
			Description:   "Withdrawal request",
			ReferenceID:   &req.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func validWithdrawalStatus(st model.WithdrawalStatus) bool {
	switch st {
	case model.WithdrawalPending, model.WithdrawalApproved, model.WithdrawalProcessed, model.WithdrawalRejected:
		return true
	}
	return false
}

// Transition moves a request to newStatus. Funds are restored only when a
// PENDING request is REJECTED; rejecting from any other state has no balance
// effect, and APPROVED/PROCESSED never re-credit.
func (s *WithdrawalService) Transition(ctx context.Context, requestID string, newStatus model.WithdrawalStatus) (*model.WithdrawalRequest, error) {
	if !validWithdrawalStatus(newStatus) {
		return nil, ErrInvalidStatus
	}
	var req *model.WithdrawalRequest
	var freelancerUserID string
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = s.repo.GetWithdrawalForUpdate(ctx, tx, requestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWithdrawalNotFound
			}
			return err
		}
		priorStatus := req.Status

		now := time.Now()
		updates := map[string]interface{}{"status": newStatus, "updated_at": now}
		if newStatus == model.WithdrawalProcessed {
			updates["processed_at"] = now
			req.ProcessedAt = &now
		}
		if err := tx.Model(&model.WithdrawalRequest{}).Where("id = ?", requestID).
			Updates(updates).Error; err != nil {
			return err
		}
		req.Status = newStatus

		if newStatus == model.WithdrawalRejected && priorStatus == model.WithdrawalPending {
			f, err := s.repo.GetFreelancerForUpdate(ctx, tx, req.FreelancerID)
			if err != nil {
				return err
			}
			restored := f.WithdrawableAmount.Add(req.Amount)
			if err := s.repo.UpdateFreelancerBalances(ctx, tx, f.ID,
				restored, f.TotalEarnings, f.MonthlyEarnings, f.Version); err != nil {
				return err
			}
			if err := s.repo.CreateTransaction(ctx, tx, &model.WalletTransaction{
				ID:            uuid.NewString(),
				UserID:        f.UserID,
				UserType:      model.UserFreelancer,
				Type:          model.TxWithdrawal,
				Amount:        req.Amount,
				BalanceBefore: f.WithdrawableAmount,
				BalanceAfter:  restored,
				Description:   "Withdrawal request rejected - funds restored",
				ReferenceID:   &req.ID,
			}); err != nil {
				return err
			}
		}

		var f model.Freelancer
		if err := tx.Where("id = ?", req.FreelancerID).First(&f).Error; err == nil {
			freelancerUserID = f.UserID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if freelancerUserID != "" {
		s.notify.Notify(ctx, freelancerUserID, "FREELANCER",
			"Withdrawal Processed",
			"Your withdrawal request for "+req.Amount.String()+" has been "+strings.ToLower(string(newStatus))+".",
			"PAYMENT", map[string]interface{}{
				"requestId": requestID, "status": string(newStatus), "amount": req.Amount.String(),
			})
	}
	return req, nil
}

// List pages withdrawal requests, optionally filtered by status.
func (s *WithdrawalService) List(ctx context.Context, status *model.WithdrawalStatus, page, limit int) ([]model.WithdrawalRequest, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	q := s.repo.DB(ctx).Model(&model.WithdrawalRequest{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var reqs []model.WithdrawalRequest
	err := q.Order("created_at desc").Offset((page - 1) * limit).Limit(limit).Find(&reqs).Error
	return reqs, total, err
}

// Get returns a single request.
func (s *WithdrawalService) Get(ctx context.Context, requestID string) (*model.WithdrawalRequest, error) {
	var req model.WithdrawalRequest
	if err := s.repo.DB(ctx).Where("id = ?", requestID).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &req, nil
}
