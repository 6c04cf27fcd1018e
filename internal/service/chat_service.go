package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/birdworks/escrow-service/internal/fee"
	"github.com/birdworks/escrow-service/internal/model"
	"github.com/birdworks/escrow-service/internal/repo"
)

var defaultCashFeeRate = decimal.NewFromFloat(0.10)

// ChatService carries the two-party payment handshakes that run inside a
// messaging thread. Handshake state is a first-class row
// (model.PaymentHandshake); chat messages are appended for display only.
type ChatService struct {
	repo   repo.RepositoryInterface
	jobs   *JobService
	wallet *WalletService
	notify Notifier
	log    *zap.SugaredLogger
}

func NewChatService(r repo.RepositoryInterface, jobs *JobService, wallet *WalletService, n Notifier, logger *zap.SugaredLogger) *ChatService {
	return &ChatService{repo: r, jobs: jobs, wallet: wallet, notify: n, log: logger}
}

// CreateOrGetThread returns the thread between freelancer and client for a
// job, creating it if absent. Freelancers carrying fee debt (negative
// withdrawable balance) may not open new threads.
func (s *ChatService) CreateOrGetThread(ctx context.Context, jobID, freelancerID, clientID string) (*model.ChatThread, error) {
	var f model.Freelancer
	if err := s.repo.DB(ctx).Where("id = ?", freelancerID).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFreelancerNotFound
		}
		return nil, err
	}
	if f.WithdrawableAmount.IsNegative() {
		return nil, ErrOutstandingBalance
	}

	var thread model.ChatThread
	err := s.repo.DB(ctx).
		Where("job_id = ? AND freelancer_id = ? AND client_id = ?", jobID, freelancerID, clientID).
		First(&thread).Error
	if err == nil {
		return &thread, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	thread = model.ChatThread{
		ID:           uuid.NewString(),
		JobID:        jobID,
		FreelancerID: freelancerID,
		ClientID:     clientID,
		Status:       model.ChatPending,
	}
	if err := s.repo.DB(ctx).Create(&thread).Error; err != nil {
		return nil, err
	}

	var client model.Client
	if err := s.repo.DB(ctx).Where("id = ?", clientID).First(&client).Error; err == nil {
		name := f.FullName
		if name == "" {
			name = "A Freelancer"
		}
		s.notify.Notify(ctx, client.UserID, "CLIENT",
			"New Job Application", name+" has applied/started a chat for your job.",
			"JOB_APPLICATION", map[string]interface{}{
				"threadId": thread.ID, "jobId": jobID, "freelancerId": freelancerID,
			})
	}
	return &thread, nil
}

// SendMessageInput is a plain chat message.
type SendMessageInput struct {
	ThreadID       string
	SenderID       string
	ReceiverID     string
	SenderType     string
	MessageContent string
}

// SendMessage appends a text message. While the job is still OPEN the
// sender's cumulative message length is capped by the thread's character
// limit.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*model.Message, error) {
	var thread model.ChatThread
	if err := s.repo.DB(ctx).Where("id = ?", in.ThreadID).First(&thread).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	var job model.Job
	if err := s.repo.DB(ctx).Where("id = ?", thread.JobID).First(&job).Error; err != nil {
		return nil, err
	}

	if job.JobStatus == model.JobOpen && thread.CharacterLimit > 0 {
		var used int64
		err := s.repo.DB(ctx).Model(&model.Message{}).
			Where("chat_thread_id = ? AND sender_id = ?", in.ThreadID, in.SenderID).
			Select("COALESCE(SUM(LENGTH(message_content)), 0)").
			Scan(&used).Error
		if err != nil {
			return nil, err
		}
		if used+int64(len(in.MessageContent)) > int64(thread.CharacterLimit) {
			return nil, ErrMessageLimitExceeded
		}
	}

	msg := &model.Message{
		ID:             uuid.NewString(),
		ChatThreadID:   in.ThreadID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		SenderType:     in.SenderType,
		MessageType:    model.MsgText,
		MessageContent: in.MessageContent,
	}
	if err := s.repo.DB(ctx).Create(msg).Error; err != nil {
		return nil, err
	}

	s.notify.Notify(ctx, in.ReceiverID, "USER",
		"New Message", "You have a new message",
		"CHAT", map[string]interface{}{"threadId": in.ThreadID, "senderId": in.SenderID})
	return msg, nil
}

func (s *ChatService) appendMessage(tx *gorm.DB, threadID, senderID, receiverID string, mt model.MessageType, content string, handshakeID *string) error {
	return tx.Create(&model.Message{
		ID:             uuid.NewString(),
		ChatThreadID:   threadID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		SenderType:     "SYSTEM",
		MessageType:    mt,
		MessageContent: content,
		HandshakeID:    handshakeID,
	}).Error
}

// RequestCompletion opens a completion handshake. Only the assigned
// freelancer may request; any earlier non-terminal handshake on the thread
// is closed first so at most one is active.
func (s *ChatService) RequestCompletion(ctx context.Context, threadID, jobID, actorUserID string) (*model.PaymentHandshake, error) {
	var hs *model.PaymentHandshake
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}
		if job.AssignedFreelancerID == nil {
			return ErrNoFreelancerAssigned
		}
		var f model.Freelancer
		if err := tx.Where("id = ?", *job.AssignedFreelancerID).First(&f).Error; err != nil {
			return err
		}
		if f.UserID != actorUserID {
			return ErrUnauthorized
		}
		var client model.Client
		if err := tx.Where("id = ?", job.ClientID).First(&client).Error; err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&model.PaymentHandshake{}).
			Where("thread_id = ? AND state NOT IN ?", threadID,
				[]model.HandshakeState{model.HandshakeCompleted, model.HandshakeSettled, model.HandshakeClosed}).
			Updates(map[string]interface{}{"state": model.HandshakeClosed, "updated_at": now}).Error; err != nil {
			return err
		}

		hs = &model.PaymentHandshake{
			ID:            uuid.NewString(),
			ThreadID:      threadID,
			JobID:         jobID,
			RequestedBy:   actorUserID,
			PaymentMethod: job.PaymentMethod,
			BudgetAmount:  job.BudgetAmount,
			State:         model.HandshakePending,
		}
		if err := tx.Create(hs).Error; err != nil {
			return err
		}
		return s.appendMessage(tx, threadID, actorUserID, client.UserID,
			model.MsgCompletionReq, "Freelancer has requested project completion confirmation", &hs.ID)
	})
	if err != nil {
		return nil, err
	}
	return hs, nil
}

// ConfirmResult reports the outcome of a completion confirmation.
type ConfirmResult struct {
	Handshake     *model.PaymentHandshake
	PaymentFailed bool
	PaymentError  string
}

// ConfirmCompletion is the client's side of the handshake. A PENDING state
// is required; anything else means the request was superseded or already
// confirmed. CASH jobs transition into the cash sub-flow. PLATFORM jobs are
// completed immediately; if settlement fails the job is still force-marked
// COMPLETED with paymentStatus FAILED and a support message is appended so
// it never appears stuck.
func (s *ChatService) ConfirmCompletion(ctx context.Context, handshakeID, actorUserID string) (*ConfirmResult, error) {
	var hs *model.PaymentHandshake
	var clientUserID, freelancerUserID string

	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		hs, err = s.repo.GetHandshakeForUpdate(ctx, tx, handshakeID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStaleHandshake
			}
			return err
		}
		if hs.State != model.HandshakePending {
			return ErrStaleHandshake
		}

		var thread model.ChatThread
		if err := tx.Where("id = ?", hs.ThreadID).First(&thread).Error; err != nil {
			return err
		}
		var client model.Client
		if err := tx.Where("id = ?", thread.ClientID).First(&client).Error; err != nil {
			return err
		}
		if client.UserID != actorUserID {
			return ErrUnauthorized
		}
		clientUserID = client.UserID
		var f model.Freelancer
		if err := tx.Where("id = ?", thread.FreelancerID).First(&f).Error; err != nil {
			return err
		}
		freelancerUserID = f.UserID

		now := time.Now()
		next := model.HandshakeConfirmed
		if hs.PaymentMethod == model.PayCash {
			// cash flow starts immediately after confirmation
			next = model.HandshakeCashInitiated
		}
		hs.State = next
		hs.ConfirmedBy = &actorUserID
		hs.ConfirmedAt = &now
		if err := tx.Model(&model.PaymentHandshake{}).Where("id = ?", hs.ID).
			Updates(map[string]interface{}{
				"state":        next,
				"confirmed_by": actorUserID,
				"confirmed_at": now,
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}

		if err := s.appendMessage(tx, hs.ThreadID, actorUserID, hs.RequestedBy,
			model.MsgNotification, "Client has confirmed project completion", nil); err != nil {
			return err
		}
		if hs.PaymentMethod == model.PayCash {
			return s.appendMessage(tx, hs.ThreadID, actorUserID, hs.RequestedBy,
				model.MsgCashPayment, "Project completion confirmed. Cash payment process initiated.", &hs.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if hs.PaymentMethod == model.PayCash {
		return &ConfirmResult{Handshake: hs}, nil
	}

	// Platform settlement runs after the confirmation has committed. A
	// settlement failure does not roll the confirmation back: the job is
	// force-marked completed with a failed payment so it never looks stuck.
	if _, err := s.jobs.CompleteJob(ctx, hs.JobID, clientUserID); err != nil {
		s.log.Errorf("platform payment for job %s: %v", hs.JobID, err)
		fbErr := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
			now := time.Now()
			if err := tx.Model(&model.Job{}).Where("id = ?", hs.JobID).
				Updates(map[string]interface{}{
					"job_status":     model.JobCompleted,
					"payment_status": model.PaymentFailed,
					"completed_at":   now,
					"updated_at":     now,
				}).Error; err != nil {
				return err
			}
			return s.appendMessage(tx, hs.ThreadID, clientUserID, freelancerUserID,
				model.MsgNotification, "Project completed but payment processing failed. Please contact support.", nil)
		})
		if fbErr != nil {
			return nil, fbErr
		}
		return &ConfirmResult{Handshake: hs, PaymentFailed: true, PaymentError: err.Error()}, nil
	}

	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&model.PaymentHandshake{}).Where("id = ?", hs.ID).
			Updates(map[string]interface{}{"state": model.HandshakeSettled, "updated_at": now}).Error; err != nil {
			return err
		}
		hs.State = model.HandshakeSettled
		if err := s.appendMessage(tx, hs.ThreadID, clientUserID, freelancerUserID,
			model.MsgNotification, "Project completed successfully! Payment processed via platform.", nil); err != nil {
			return err
		}
		return s.appendMessage(tx, hs.ThreadID, freelancerUserID, clientUserID,
			model.MsgReviewRequest, "Please leave a review for this job", &hs.ID)
	})
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Handshake: hs}, nil
}

// ClientConfirmCash records the client's acknowledgement that cash changed
// hands.
func (s *ChatService) ClientConfirmCash(ctx context.Context, handshakeID, actorUserID string) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		hs, err := s.repo.GetHandshakeForUpdate(ctx, tx, handshakeID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStaleHandshake
			}
			return err
		}
		if hs.State != model.HandshakeCashInitiated {
			return ErrStaleHandshake
		}

		var thread model.ChatThread
		if err := tx.Where("id = ?", hs.ThreadID).First(&thread).Error; err != nil {
			return err
		}
		var client model.Client
		if err := tx.Where("id = ?", thread.ClientID).First(&client).Error; err != nil {
			return err
		}
		if client.UserID != actorUserID {
			return ErrUnauthorized
		}

		now := time.Now()
		if err := tx.Model(&model.PaymentHandshake{}).Where("id = ?", hs.ID).
			Updates(map[string]interface{}{"state": model.HandshakeClientConfirmed, "updated_at": now}).Error; err != nil {
			return err
		}
		return s.appendMessage(tx, hs.ThreadID, actorUserID, hs.RequestedBy,
			model.MsgNotification, "Client has confirmed cash payment of "+hs.BudgetAmount.String(), nil)
	})
}

// FreelancerConfirmCash finalizes the cash flow: the client must have
// confirmed first. The job is marked paid, the bird fee is computed from the
// service config (10% when none exists) and deducted post-hoc from the
// freelancer, allowing the balance to go negative.
func (s *ChatService) FreelancerConfirmCash(ctx context.Context, handshakeID, actorUserID string) error {
	var freelancerUserID, clientUserID, jobTitle string
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		hs, err := s.repo.GetHandshakeForUpdate(ctx, tx, handshakeID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStaleHandshake
			}
			return err
		}
		switch hs.State {
		case model.HandshakeClientConfirmed:
		case model.HandshakeCashInitiated:
			return ErrClientMustConfirmFirst
		default:
			return ErrStaleHandshake
		}

		var thread model.ChatThread
		if err := tx.Where("id = ?", hs.ThreadID).First(&thread).Error; err != nil {
			return err
		}
		var f model.Freelancer
		if err := tx.Where("id = ?", thread.FreelancerID).First(&f).Error; err != nil {
			return err
		}
		if f.UserID != actorUserID {
			return ErrUnauthorized
		}
		freelancerUserID = f.UserID
		var client model.Client
		if err := tx.Where("id = ?", thread.ClientID).First(&client).Error; err != nil {
			return err
		}
		clientUserID = client.UserID

		job, err := s.repo.GetJobForUpdate(ctx, tx, hs.JobID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}
		jobTitle = job.JobTitle

		birdFee := job.BudgetAmount.Mul(defaultCashFeeRate)
		if job.ServiceID != nil {
			var svc model.Service
			if err := tx.Where("id = ?", *job.ServiceID).First(&svc).Error; err == nil && svc.BirdFee != nil {
				birdFee = fee.Calculate(job.BudgetAmount, fee.Parse(svc.BirdFee))
			}
		}

		now := time.Now()
		if err := tx.Model(&model.PaymentHandshake{}).Where("id = ?", hs.ID).
			Updates(map[string]interface{}{"state": model.HandshakeCompleted, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Job{}).Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"job_status":      model.JobCompleted,
				"payment_status":  model.PaymentCompleted,
				"bird_fee_amount": birdFee,
				"completed_at":    now,
				"updated_at":      now,
			}).Error; err != nil {
			return err
		}
		if birdFee.IsPositive() {
			if err := s.wallet.deductFeePostHocTx(ctx, tx, f.ID, birdFee, job.ID,
				"Platform fee for job completion (Cash Payment) - "+job.JobTitle); err != nil {
				return err
			}
		}

		if err := s.appendMessage(tx, hs.ThreadID, actorUserID, clientUserID,
			model.MsgNotification, "Payment completed! Freelancer received "+job.BudgetAmount.String(), nil); err != nil {
			return err
		}
		return s.appendMessage(tx, hs.ThreadID, freelancerUserID, clientUserID,
			model.MsgReviewRequest, "Please leave a review for this job", &hs.ID)
	})
	if err != nil {
		return err
	}

	s.notify.Notify(ctx, freelancerUserID, "FREELANCER",
		"Cash Payment Completed", "Cash payment confirmed for job: "+jobTitle,
		"PAYMENT", map[string]interface{}{"handshakeId": handshakeID})
	return nil
}
