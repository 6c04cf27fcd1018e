package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/birdworks/escrow-service/internal/fee"
	"github.com/birdworks/escrow-service/internal/model"
	"github.com/birdworks/escrow-service/internal/priority"
	"github.com/birdworks/escrow-service/internal/repo"
)

// JobService drives the job state machine and calls the wallet ledger at
// the transition points: reserve on create/assign, settle on complete,
// release on cancel.
type JobService struct {
	repo   repo.RepositoryInterface
	wallet *WalletService
	notify Notifier
	log    *zap.SugaredLogger
}

func NewJobService(r repo.RepositoryInterface, w *WalletService, n Notifier, logger *zap.SugaredLogger) *JobService {
	return &JobService{repo: r, wallet: w, notify: n, log: logger}
}

// CreateJobInput carries the job fields the ledger cares about plus listing
// metadata.
type CreateJobInput struct {
	JobTitle       string
	JobDescription string
	JobCategory    string
	SkillsRequired []string
	BudgetAmount   decimal.Decimal
	ServiceID      *string
	DeadlineDate   *time.Time
	PaymentMethod  model.PaymentMethod
	Location       string
	IsUrgent       bool
}

// CreateJob inserts the job and, for PLATFORM payment, reserves the budget
// inside the same transaction: if the client cannot cover it the whole
// creation fails. The job is attached to the acting user's own client
// profile; the profile id is never taken from the caller, so the reservation
// and any later settlement always hit the same wallet.
func (s *JobService) CreateJob(ctx context.Context, in CreateJobInput, clientUserID string) (*model.Job, error) {
	if in.BudgetAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = model.PayPlatform
	}

	var client model.Client
	if err := s.repo.DB(ctx).Where("user_id = ?", clientUserID).First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}

	birdFee := decimal.Zero
	if in.ServiceID != nil {
		var svc model.Service
		err := s.repo.DB(ctx).Where("id = ?", *in.ServiceID).First(&svc).Error
		if err == nil {
			birdFee = fee.Calculate(in.BudgetAmount, fee.Parse(svc.BirdFee))
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	skills, _ := json.Marshal(in.SkillsRequired)
	job := &model.Job{
		ID:             uuid.NewString(),
		JobTitle:       in.JobTitle,
		JobDescription: in.JobDescription,
		JobCategory:    in.JobCategory,
		SkillsRequired: string(skills),
		ClientID:       client.ID,
		ServiceID:      in.ServiceID,
		BudgetAmount:   in.BudgetAmount,
		BirdFeeAmount:  birdFee,
		PaymentMethod:  in.PaymentMethod,
		JobStatus:      model.JobOpen,
		PaymentStatus:  model.PaymentPending,
		DeadlineDate:   in.DeadlineDate,
		Location:       in.Location,
		IsUrgent:       in.IsUrgent,
	}

	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		if job.PaymentMethod != model.PayPlatform {
			return nil
		}
		if err := s.wallet.reserveForJobTx(ctx, tx, clientUserID, job.ID, job.BudgetAmount); err != nil {
			return err
		}
		job.IsAmountReserved = true
		job.PaymentStatus = model.PaymentReserved
		return tx.Model(&model.Job{}).Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"is_amount_reserved": true,
				"payment_status":     model.PaymentReserved,
				"updated_at":         time.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// AssignFreelancer moves an OPEN job to IN_PROGRESS. Only the job's own
// client may assign. A PLATFORM job created without a reservation (or whose
// reservation failed) is reserved here; the chosen freelancer's thread is
// accepted and every other pending thread on the job is rejected.
func (s *JobService) AssignFreelancer(ctx context.Context, jobID, freelancerID, clientUserID string) (*model.Job, error) {
	var job *model.Job
	var freelancerUserID string
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		job, err = s.repo.GetJobForUpdate(ctx, tx, jobID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}

		var client model.Client
		if err := tx.Where("id = ?", job.ClientID).First(&client).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrClientNotFound
			}
			return err
		}
		if client.UserID != clientUserID {
			return ErrUnauthorized
		}

		if !job.IsAmountReserved && job.PaymentMethod == model.PayPlatform {
			if err := s.wallet.reserveForJobTx(ctx, tx, clientUserID, jobID, job.BudgetAmount); err != nil {
				return err
			}
			job.IsAmountReserved = true
			job.PaymentStatus = model.PaymentReserved
		}

		now := time.Now()
		job.AssignedFreelancerID = &freelancerID
		job.JobStatus = model.JobInProgress
		job.AssignedAt = &now
		if err := tx.Model(&model.Job{}).Where("id = ?", jobID).
			Updates(map[string]interface{}{
				"assigned_freelancer_id": freelancerID,
				"job_status":             model.JobInProgress,
				"is_amount_reserved":     job.IsAmountReserved,
				"payment_status":         job.PaymentStatus,
				"assigned_at":            now,
				"updated_at":             now,
			}).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.ChatThread{}).
			Where("job_id = ? AND freelancer_id = ?", jobID, freelancerID).
			Updates(map[string]interface{}{"status": model.ChatAccepted, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.ChatThread{}).
			Where("job_id = ? AND freelancer_id <> ?", jobID, freelancerID).
			Updates(map[string]interface{}{"status": model.ChatRejected, "updated_at": now}).Error; err != nil {
			return err
		}

		var f model.Freelancer
		if err := tx.Where("id = ?", freelancerID).First(&f).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFreelancerNotFound
			}
			return err
		}
		freelancerUserID = f.UserID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify.Notify(ctx, freelancerUserID, "FREELANCER",
		"Job Assigned", "You have been assigned to: "+job.JobTitle,
		"JOB_ASSIGNED", map[string]interface{}{"jobId": jobID})
	return job, nil
}

// CompleteJob settles payment and marks the job COMPLETED. Only the job's
// client may complete.
func (s *JobService) CompleteJob(ctx context.Context, jobID, actorUserID string) (*model.Job, error) {
	var job *model.Job
	var freelancerUserID string
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		job, err = s.repo.GetJobForUpdate(ctx, tx, jobID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}

		var client model.Client
		if err := tx.Where("user_id = ?", actorUserID).First(&client).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnauthorized
			}
			return err
		}
		if job.ClientID != client.ID {
			return ErrUnauthorized
		}

		if _, err := s.wallet.settleJobPaymentTx(ctx, tx, jobID); err != nil {
			return err
		}

		now := time.Now()
		job.JobStatus = model.JobCompleted
		job.PaymentStatus = model.PaymentCompleted
		job.AmountPaid = job.BudgetAmount
		job.IsAmountReserved = false
		job.CompletedAt = &now
		if err := tx.Model(&model.Job{}).Where("id = ?", jobID).
			Updates(map[string]interface{}{
				"job_status":         model.JobCompleted,
				"payment_status":     model.PaymentCompleted,
				"amount_paid":        job.BudgetAmount,
				"is_amount_reserved": false,
				"completed_at":       now,
				"updated_at":         now,
			}).Error; err != nil {
			return err
		}

		if job.AssignedFreelancerID != nil {
			var f model.Freelancer
			if err := tx.Where("id = ?", *job.AssignedFreelancerID).First(&f).Error; err == nil {
				freelancerUserID = f.UserID
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if freelancerUserID != "" {
		s.notify.Notify(ctx, freelancerUserID, "FREELANCER",
			"Job Completed", "Job \""+job.JobTitle+"\" has been marked as completed.",
			"JOB_COMPLETED", map[string]interface{}{"jobId": jobID})
	}
	return job, nil
}

// CancelJob releases the reservation if one exists and marks the job
// CANCELLED. Allowed for the job's client or its assigned freelancer.
func (s *JobService) CancelJob(ctx context.Context, jobID, actorUserID string) (*model.Job, error) {
	var job *model.Job
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		job, err = s.repo.GetJobForUpdate(ctx, tx, jobID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}

		var client model.Client
		if err := tx.Where("id = ?", job.ClientID).First(&client).Error; err != nil {
			return err
		}
		authorized := client.UserID == actorUserID
		if !authorized && job.AssignedFreelancerID != nil {
			var f model.Freelancer
			if err := tx.Where("id = ?", *job.AssignedFreelancerID).First(&f).Error; err == nil {
				authorized = f.UserID == actorUserID
			}
		}
		if !authorized {
			return ErrUnauthorized
		}

		if job.IsAmountReserved {
			if err := s.wallet.releaseReservationTx(ctx, tx, client.UserID, jobID); err != nil {
				return err
			}
		}

		now := time.Now()
		job.JobStatus = model.JobCancelled
		job.PaymentStatus = model.PaymentCancelled
		job.IsAmountReserved = false
		return tx.Model(&model.Job{}).Where("id = ?", jobID).
			Updates(map[string]interface{}{
				"job_status":         model.JobCancelled,
				"payment_status":     model.PaymentCancelled,
				"is_amount_reserved": false,
				"updated_at":         now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListByPriority buckets OPEN jobs by urgency, honoring a per-service
// threshold override when serviceID is given.
func (s *JobService) ListByPriority(ctx context.Context, serviceID *string) (map[priority.Priority][]model.Job, error) {
	cfg := priority.DefaultConfig()
	q := s.repo.DB(ctx).Where("job_status = ?", model.JobOpen)
	if serviceID != nil {
		var svc model.Service
		if err := s.repo.DB(ctx).Where("id = ?", *serviceID).First(&svc).Error; err == nil {
			cfg = priority.ParseOverride(svc.PriorityConfig)
		}
		q = q.Where("service_id = ?", *serviceID)
	}
	var jobs []model.Job
	if err := q.Order("created_at desc").Find(&jobs).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	out := map[priority.Priority][]model.Job{
		priority.Immediate: {},
		priority.High:      {},
		priority.Standard:  {},
	}
	for _, j := range jobs {
		p := priority.Classify(j.DeadlineDate, now, cfg)
		out[p] = append(out[p], j)
	}
	return out, nil
}
