package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/birdworks/escrow-service/internal/model"
	"github.com/birdworks/escrow-service/internal/repo"
)

// WalletService owns the ledger primitives: client wallet/reserved
// bookkeeping and freelancer earnings bookkeeping. Every balance mutation
// runs inside one database transaction together with its audit row, against
// a row locked for update.
type WalletService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *WalletService {
	return &WalletService{repo: r, log: logger}
}

func insufficientErr(available, required decimal.Decimal) error {
	return fmt.Errorf("%w. Available: %s, Required: %s", ErrInsufficientBalance, available, required)
}

func maxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ClientWallet is the client balance snapshot returned to callers.
type ClientWallet struct {
	ClientID         string          `json:"clientId"`
	UserID           string          `json:"userId"`
	TotalBalance     decimal.Decimal `json:"totalBalance"`
	ReservedAmount   decimal.Decimal `json:"reservedAmount"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}

// FreelancerWallet is the freelancer balance snapshot.
type FreelancerWallet struct {
	FreelancerID       string          `json:"freelancerId"`
	UserID             string          `json:"userId"`
	WithdrawableAmount decimal.Decimal `json:"withdrawableAmount"`
	TotalEarnings      decimal.Decimal `json:"totalEarnings"`
	MonthlyEarnings    decimal.Decimal `json:"monthlyEarnings"`
}

// Settlement summarizes a completed job payment.
type Settlement struct {
	BudgetAmount      decimal.Decimal `json:"budgetAmount"`
	FreelancerPayment decimal.Decimal `json:"freelancerPayment"`
	BirdFeeAmount     decimal.Decimal `json:"birdFeeAmount"`
}

// reserveForJobTx earmarks amount of the client's wallet against jobID.
// The wallet total does not move; only the reserved slice grows, so the
// audit row records identical before/after wallet figures.
func (s *WalletService) reserveForJobTx(ctx context.Context, tx *gorm.DB, clientUserID, jobID string, amount decimal.Decimal) error {
	client, err := s.repo.GetClientByUserForUpdate(ctx, tx, clientUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrClientNotFound
		}
		return err
	}
	available := client.Wallet.Sub(client.ReservedAmount)
	if available.LessThan(amount) {
		return insufficientErr(available, amount)
	}
	newReserved := client.ReservedAmount.Add(amount)
	if err := s.repo.UpdateClientBalances(ctx, tx, client.ID, client.Wallet, newReserved, client.Version); err != nil {
		return err
	}
	return s.repo.CreateTransaction(ctx, tx, &model.WalletTransaction{
		ID:            uuid.NewString(),
		UserID:        clientUserID,
		UserType:      model.UserClient,
		JobID:         &jobID,
		Type:          model.TxJobReserve,
		Amount:        amount,
		BalanceBefore: client.Wallet,
		BalanceAfter:  client.Wallet,
		Description:   "Amount reserved for job",
	})
}

// ReserveForJob runs the reservation in its own transaction. Callers guard
// double-reservation through the job's IsAmountReserved flag.
func (s *WalletService) ReserveForJob(ctx context.Context, clientUserID, jobID string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return s.reserveForJobTx(ctx, tx, clientUserID, jobID, amount)
	})
}

// releaseReservationTx returns the job's full budget from the reserved slice
// to the available slice, floored at zero.
func (s *WalletService) releaseReservationTx(ctx context.Context, tx *gorm.DB, clientUserID, jobID string) error {
	job, err := s.repo.GetJobForUpdate(ctx, tx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	if !job.IsAmountReserved {
		return ErrNotReserved
	}
	client, err := s.repo.GetClientByUserForUpdate(ctx, tx, clientUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrClientNotFound
		}
		return err
	}
	newReserved := maxZero(client.ReservedAmount.Sub(job.BudgetAmount))
	if err := s.repo.UpdateClientBalances(ctx, tx, client.ID, client.Wallet, newReserved, client.Version); err != nil {
		return err
	}
	return s.repo.CreateTransaction(ctx, tx, &model.WalletTransaction{
		ID:            uuid.NewString(),
		UserID:        clientUserID,
		UserType:      model.UserClient,
		JobID:         &jobID,
		Type:          model.TxJobRelease,
		Amount:        job.BudgetAmount,
		BalanceBefore: client.Wallet,
		BalanceAfter:  client.Wallet,
		Description:   "Released reserved amount for cancelled job",
	})
}

// ReleaseReservation runs the release in its own transaction.
func (s *WalletService) ReleaseReservation(ctx context.Context, clientUserID, jobID string) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return s.releaseReservationTx(ctx, tx, clientUserID, jobID)
	})
}

// settleJobPaymentTx moves the reserved budget out of the client wallet and
// credits the freelancer with budget minus the bird fee. Three audit rows:
// client debit, freelancer credit, and an informational PLATFORM_FEE row
// (the fee was already netted out of the freelancer payment, so that row
// does not move a balance).
func (s *WalletService) settleJobPaymentTx(ctx context.Context, tx *gorm.DB, jobID string) (*Settlement, error) {
	job, err := s.repo.GetJobForUpdate(ctx, tx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.AssignedFreelancerID == nil {
		return nil, ErrNoFreelancerAssigned
	}
	if job.PaymentStatus == model.PaymentCompleted {
		return nil, ErrAlreadyPaid
	}
	if !job.IsAmountReserved {
		return nil, ErrNotReserved
	}

	client, err := s.repo.GetClientForUpdate(ctx, tx, job.ClientID)
	if err != nil {
		return nil, err
	}
	freelancer, err := s.repo.GetFreelancerForUpdate(ctx, tx, *job.AssignedFreelancerID)
	if err != nil {
		return nil, err
	}

	payment := job.BudgetAmount.Sub(job.BirdFeeAmount)

	newWallet := client.Wallet.Sub(job.BudgetAmount)
	newReserved := maxZero(client.ReservedAmount.Sub(job.BudgetAmount))
	if err := s.repo.UpdateClientBalances(ctx, tx, client.ID, newWallet, newReserved, client.Version); err != nil {
		return nil, err
	}

	newWithdrawable := freelancer.WithdrawableAmount.Add(payment)
	if err := s.repo.UpdateFreelancerBalances(ctx, tx, freelancer.ID,
		newWithdrawable,
		freelancer.TotalEarnings.Add(payment),
		freelancer.MonthlyEarnings.Add(payment),
		freelancer.Version); err != nil {
		return nil, err
	}

	if err := s.repo.CreateTransaction(ctx, tx, &model.WalletTransaction{
		ID:            uuid.NewString(),
		UserID:        client.UserID,
		UserType:      model.UserClient,
		JobID:         &job.ID,
		Type:          model.TxJobPayment,
		Amount:        job.BudgetAmount.Neg(),
		BalanceBefore: client.Wallet,
		BalanceAfter:  newWallet,
		Description:   "Payment for job: " + job.JobTitle,
	}); err != nil {
		return nil, err
	}
	if err := s.repo.CreateTransaction(ctx, tx, &model.WalletTransaction{
		ID:            uuid.NewString(),
		UserID:        freelancer.UserID,
		UserType:      model.UserFreelancer,
		JobID:         &job.ID,
		Type:          model.TxJobPayment,
		Amount:        payment,
		BalanceBefore: freelancer.WithdrawableAmount,
		BalanceAfter:  newWithdrawable,
		Description:   "Earnings from job: " + job.JobTitle + " (after platform fee)",
	}); err != nil {
		return nil, err
	}
	if job.BirdFeeAmount.IsPositive() {
		if err := s.repo.CreateTransaction(ctx, tx, &model.WalletTransaction{
			ID:            uuid.NewString(),
			UserID:        freelancer.UserID,
			UserType:      model.UserFreelancer,
			JobID:         &job.ID,
			Type:          model.TxPlatformFee,
			Amount:        job.BirdFeeAmount.Neg(),
			BalanceBefore: newWithdrawable,
			BalanceAfter:  newWithdrawable,
			Description:   "Platform fee for job: " + job.JobTitle,
		}); err != nil {
			return nil, err
		}
	}

	// Mark the job paid here so a repeated settle hits the ErrAlreadyPaid
	// guard even when the caller does not update the job itself.
	if err := tx.Model(&model.Job{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"payment_status":     model.PaymentCompleted,
			"amount_paid":        job.BudgetAmount,
			"is_amount_reserved": false,
			"updated_at":         time.Now(),
		}).Error; err != nil {
		return nil, err
	}

	return &Settlement{
		BudgetAmount:      job.BudgetAmount,
		FreelancerPayment: payment,
		BirdFeeAmount:     job.BirdFeeAmount,
	}, nil
}

// SettleJobPayment runs the settlement in its own transaction.
func (s *WalletService) SettleJobPayment(ctx context.Context, jobID string) (*Settlement, error) {
	var out *Settlement
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.settleJobPaymentTx(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// deductFeePostHocTx subtracts the bird fee directly from the freelancer's
// withdrawable balance. Used by the cash path where no client wallet debit
// exists; the balance is explicitly allowed to go negative.
func (s *WalletService) deductFeePostHocTx(ctx context.Context, tx *gorm.DB, freelancerID string, feeAmount decimal.Decimal, jobID, description string) error {
	freelancer, err := s.repo.GetFreelancerForUpdate(ctx, tx, freelancerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFreelancerNotFound
		}
		return err
	}
	newBalance := freelancer.WithdrawableAmount.Sub(feeAmount)
	if err := s.repo.UpdateFreelancerBalances(ctx, tx, freelancer.ID,
		newBalance, freelancer.TotalEarnings, freelancer.MonthlyEarnings, freelancer.Version); err != nil {
		return err
	}
	return s.repo.CreateTransaction(ctx, tx, &model.WalletTransaction{
		ID:            uuid.NewString(),
		UserID:        freelancer.UserID,
		UserType:      model.UserFreelancer,
		JobID:         &jobID,
		Type:          model.TxPlatformFee,
		Amount:        feeAmount.Neg(),
		BalanceBefore: freelancer.WithdrawableAmount,
		BalanceAfter:  newBalance,
		Description:   description,
	})
}

// DeductFeePostHoc runs the post-hoc fee debit in its own transaction.
func (s *WalletService) DeductFeePostHoc(ctx context.Context, freelancerID string, feeAmount decimal.Decimal, jobID string) error {
	if feeAmount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return s.deductFeePostHocTx(ctx, tx, freelancerID, feeAmount, jobID, "Platform fee for job completion (Cash Payment)")
	})
}

// Deposit adds money to the client wallet.
func (s *WalletService) Deposit(ctx context.Context, clientUserID string, amount decimal.Decimal, description string, referenceID *string) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}
	if description == "" {
		description = "Wallet deposit"
	}
	var newBalance decimal.Decimal
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		client, err := s.repo.GetClientByUserForUpdate(ctx, tx, clientUserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrClientNotFound
			}
			return err
		}
		newBalance = client.Wallet.Add(amount)
		if err := s.repo.UpdateClientBalances(ctx, tx, client.ID, newBalance, client.ReservedAmount, client.Version); err != nil {
			return err
		}
		return s.repo.CreateTransaction(ctx, tx, &model.WalletTransaction{
			ID:            uuid.NewString(),
			UserID:        clientUserID,
			UserType:      model.UserClient,
			Type:          model.TxDeposit,
			Amount:        amount,
			BalanceBefore: client.Wallet,
			BalanceAfter:  newBalance,
			Description:   description,
			ReferenceID:   referenceID,
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, clientUserID, newBalance); err != nil {
		s.log.Warn(err)
	}
	return newBalance, nil
}

// SettleFreelancerBalance credits the freelancer's withdrawable amount; the
// deposit path freelancers use to clear fee debt.
func (s *WalletService) SettleFreelancerBalance(ctx context.Context, freelancerUserID string, amount decimal.Decimal, description string, referenceID *string) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}
	if description == "" {
		description = "Balance settlement"
	}
	var newBalance decimal.Decimal
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.GetFreelancerByUserForUpdate(ctx, tx, freelancerUserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFreelancerNotFound
			}
			return err
		}
		newBalance = f.WithdrawableAmount.Add(amount)
		if err := s.repo.UpdateFreelancerBalances(ctx, tx, f.ID, newBalance, f.TotalEarnings, f.MonthlyEarnings, f.Version); err != nil {
			return err
		}
		return s.repo.CreateTransaction(ctx, tx, &model.WalletTransaction{
			ID:            uuid.NewString(),
			UserID:        freelancerUserID,
			UserType:      model.UserFreelancer,
			Type:          model.TxDeposit,
			Amount:        amount,
			BalanceBefore: f.WithdrawableAmount,
			BalanceAfter:  newBalance,
			Description:   description,
			ReferenceID:   referenceID,
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, freelancerUserID, newBalance); err != nil {
		s.log.Warn(err)
	}
	return newBalance, nil
}

// GetClientWallet returns the client balance snapshot. The available figure
// is floored at zero for display.
func (s *WalletService) GetClientWallet(ctx context.Context, clientUserID string) (*ClientWallet, error) {
	var c model.Client
	if err := s.repo.DB(ctx).Where("user_id = ?", clientUserID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	if err := s.repo.CacheBalance(ctx, clientUserID, c.Wallet); err != nil {
		s.log.Warn(err)
	}
	return &ClientWallet{
		ClientID:         c.ID,
		UserID:           c.UserID,
		TotalBalance:     c.Wallet,
		ReservedAmount:   c.ReservedAmount,
		AvailableBalance: maxZero(c.Wallet.Sub(c.ReservedAmount)),
	}, nil
}

// GetFreelancerWallet returns the freelancer balance snapshot.
func (s *WalletService) GetFreelancerWallet(ctx context.Context, freelancerUserID string) (*FreelancerWallet, error) {
	var f model.Freelancer
	if err := s.repo.DB(ctx).Where("user_id = ?", freelancerUserID).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFreelancerNotFound
		}
		return nil, err
	}
	if err := s.repo.CacheBalance(ctx, freelancerUserID, f.WithdrawableAmount); err != nil {
		s.log.Warn(err)
	}
	return &FreelancerWallet{
		FreelancerID:       f.ID,
		UserID:             f.UserID,
		WithdrawableAmount: f.WithdrawableAmount,
		TotalEarnings:      f.TotalEarnings,
		MonthlyEarnings:    f.MonthlyEarnings,
	}, nil
}

// GetBalance returns the headline figure for a user: a client's wallet total
// or a freelancer's withdrawable amount. Reads the cache first, falls back to
// the database on a miss.
func (s *WalletService) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	bal, err := s.repo.GetCachedBalance(ctx, userID)
	if err == nil {
		return bal, nil
	}
	var c model.Client
	err = s.repo.DB(ctx).Where("user_id = ?", userID).First(&c).Error
	if err == nil {
		_ = s.repo.CacheBalance(ctx, userID, c.Wallet)
		return c.Wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, err
	}
	var f model.Freelancer
	if err := s.repo.DB(ctx).Where("user_id = ?", userID).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, ErrClientNotFound
		}
		return decimal.Zero, err
	}
	_ = s.repo.CacheBalance(ctx, userID, f.WithdrawableAmount)
	return f.WithdrawableAmount, nil
}

// GetTransactionHistory pages the audit trail, newest first.
func (s *WalletService) GetTransactionHistory(ctx context.Context, userID string, page, limit int, txType *model.TransactionType, userType *model.UserType) ([]model.WalletTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	q := s.repo.DB(ctx).Model(&model.WalletTransaction{}).Where("user_id = ?", userID)
	if txType != nil {
		q = q.Where("transaction_type = ?", *txType)
	}
	if userType != nil {
		q = q.Where("user_type = ?", *userType)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var txs []model.WalletTransaction
	err := q.Order("created_at desc").Offset((page - 1) * limit).Limit(limit).Find(&txs).Error
	return txs, total, err
}

// UpdateReservedForBudgetChange adjusts the reservation when a job's budget
// is edited: increases must fit in the available balance, decreases release
// the difference.
func (s *WalletService) UpdateReservedForBudgetChange(ctx context.Context, clientUserID, jobID string, oldBudget, newBudget decimal.Decimal) error {
	diff := newBudget.Sub(oldBudget)
	if diff.IsZero() {
		return nil
	}
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		client, err := s.repo.GetClientByUserForUpdate(ctx, tx, clientUserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrClientNotFound
			}
			return err
		}
		available := client.Wallet.Sub(client.ReservedAmount)
		if diff.IsPositive() && available.LessThan(diff) {
			return insufficientErr(available, diff)
		}
		newReserved := maxZero(client.ReservedAmount.Add(diff))
		if err := s.repo.UpdateClientBalances(ctx, tx, client.ID, client.Wallet, newReserved, client.Version); err != nil {
			return err
		}
		trType := model.TxJobReserve
		desc := "Additional amount reserved for job budget increase"
		if diff.IsNegative() {
			trType = model.TxJobRelease
			desc = "Amount released from job budget decrease"
		}
		return s.repo.CreateTransaction(ctx, tx, &model.WalletTransaction{
			ID:            uuid.NewString(),
			UserID:        clientUserID,
			UserType:      model.UserClient,
			JobID:         &jobID,
			Type:          trType,
			Amount:        diff.Abs(),
			BalanceBefore: client.Wallet,
			BalanceAfter:  client.Wallet,
			Description:   desc,
		})
	})
}
