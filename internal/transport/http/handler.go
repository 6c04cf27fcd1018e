package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/birdworks/escrow-service/internal/model"
	"github.com/birdworks/escrow-service/internal/service"
)

func RegisterHandlers(r *gin.Engine, svcs Services) {
	v1 := r.Group("/v1", ActorMiddleware())
	{
		v1.POST("/wallet/client/deposit", depositHandler(svcs.Wallet))
		v1.POST("/wallet/freelancer/settle", settleHandler(svcs.Wallet))
		v1.GET("/wallet/balance", balanceHandler(svcs.Wallet))
		v1.GET("/wallet/balance/headline", headlineBalanceHandler(svcs.Wallet))
		v1.GET("/wallet/transactions", historyHandler(svcs.Wallet))

		v1.POST("/jobs", createJobHandler(svcs.Jobs))
		v1.PATCH("/jobs/:id/assign", assignHandler(svcs.Jobs))
		v1.POST("/jobs/:id/complete", completeHandler(svcs.Jobs))
		v1.PATCH("/jobs/:id/cancel", cancelHandler(svcs.Jobs))
		v1.GET("/jobs/priority", priorityHandler(svcs.Jobs))

		v1.POST("/chats/thread", threadHandler(svcs.Chats))
		v1.POST("/chats/message", messageHandler(svcs.Chats))
		v1.POST("/chats/completion-request", completionRequestHandler(svcs.Chats))
		v1.POST("/chats/completion-request/confirm", completionConfirmHandler(svcs.Chats))
		v1.POST("/chats/cash-payment/client-confirm", cashClientConfirmHandler(svcs.Chats))
		v1.POST("/chats/cash-payment/freelancer-confirm", cashFreelancerConfirmHandler(svcs.Chats))

		v1.POST("/withdrawals", createWithdrawalHandler(svcs.Withdrawals))
		v1.GET("/withdrawals", listWithdrawalsHandler(svcs.Withdrawals))
		v1.PATCH("/withdrawals/:id", transitionWithdrawalHandler(svcs.Withdrawals))
	}
}

func actorID(c *gin.Context) string { return c.GetHeader("X-User-ID") }

// errStatus maps business-rule failures to response codes; expected
// outcomes get 4xx with their reason text.
func errStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, service.ErrClientNotFound),
		errors.Is(err, service.ErrFreelancerNotFound),
		errors.Is(err, service.ErrThreadNotFound),
		errors.Is(err, service.ErrWithdrawalNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAlreadyPaid),
		errors.Is(err, service.ErrStaleHandshake):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrNotReserved),
		errors.Is(err, service.ErrNoFreelancerAssigned),
		errors.Is(err, service.ErrClientMustConfirmFirst),
		errors.Is(err, service.ErrOutstandingBalance),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrMessageLimitExceeded):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.JSON(errStatus(err), gin.H{"error": err.Error()})
}

type depositReq struct {
	Amount      string  `json:"amount" binding:"required"`
	Description string  `json:"description"`
	ReferenceID *string `json:"referenceId"`
}

func depositHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req depositReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		bal, err := svc.Deposit(c, actorID(c), amt, req.Description, req.ReferenceID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

func settleHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req depositReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		bal, err := svc.SettleFreelancerBalance(c, actorID(c), amt, req.Description, req.ReferenceID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

func balanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.DefaultQuery("role", "CLIENT")
		if role == "FREELANCER" {
			w, err := svc.GetFreelancerWallet(c, actorID(c))
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, w)
			return
		}
		w, err := svc.GetClientWallet(c, actorID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func headlineBalanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := svc.GetBalance(c, actorID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

func historyHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		var txType *model.TransactionType
		if raw := c.Query("type"); raw != "" {
			t := model.TransactionType(raw)
			txType = &t
		}
		var userType *model.UserType
		if raw := c.Query("userType"); raw != "" {
			u := model.UserType(raw)
			userType = &u
		}
		txs, total, err := svc.GetTransactionHistory(c, actorID(c), page, limit, txType, userType)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"transactions": txs,
			"pagination":   gin.H{"total": total, "page": page, "limit": limit},
		})
	}
}

type createJobReq struct {
	JobTitle       string   `json:"jobTitle" binding:"required"`
	JobDescription string   `json:"jobDescription"`
	JobCategory    string   `json:"jobCategory"`
	SkillsRequired []string `json:"skillsRequired"`
	BudgetAmount   string   `json:"budgetAmount" binding:"required"`
	ServiceID      *string  `json:"serviceId"`
	DeadlineDate   *string  `json:"deadlineDate"`
	PaymentMethod  string   `json:"paymentMethod"`
	Location       string   `json:"location"`
	IsUrgent       bool     `json:"isUrgent"`
}

func createJobHandler(svc *service.JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createJobReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		budget, err := decimal.NewFromString(req.BudgetAmount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid budgetAmount"})
			return
		}
		var deadline *time.Time
		if req.DeadlineDate != nil {
			t, err := time.Parse(time.RFC3339, *req.DeadlineDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deadlineDate"})
				return
			}
			deadline = &t
		}
		job, err := svc.CreateJob(c, service.CreateJobInput{
			JobTitle:       req.JobTitle,
			JobDescription: req.JobDescription,
			JobCategory:    req.JobCategory,
			SkillsRequired: req.SkillsRequired,
			BudgetAmount:   budget,
			ServiceID:      req.ServiceID,
			DeadlineDate:   deadline,
			PaymentMethod:  model.PaymentMethod(req.PaymentMethod),
			Location:       req.Location,
			IsUrgent:       req.IsUrgent,
		}, actorID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, job)
	}
}

func assignHandler(svc *service.JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			FreelancerID string `json:"freelancerId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job, err := svc.AssignFreelancer(c, c.Param("id"), req.FreelancerID, actorID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func completeHandler(svc *service.JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := svc.CompleteJob(c, c.Param("id"), actorID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func cancelHandler(svc *service.JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := svc.CancelJob(c, c.Param("id"), actorID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func priorityHandler(svc *service.JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var serviceID *string
		if raw := c.Query("serviceId"); raw != "" {
			serviceID = &raw
		}
		buckets, err := svc.ListByPriority(c, serviceID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, buckets)
	}
}

func threadHandler(svc *service.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			JobID        string `json:"jobId" binding:"required"`
			FreelancerID string `json:"freelancerId" binding:"required"`
			ClientID     string `json:"clientId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		thread, err := svc.CreateOrGetThread(c, req.JobID, req.FreelancerID, req.ClientID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, thread)
	}
}

func messageHandler(svc *service.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ThreadID       string `json:"threadId" binding:"required"`
			ReceiverID     string `json:"receiverId" binding:"required"`
			SenderType     string `json:"senderType"`
			MessageContent string `json:"messageContent" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		msg, err := svc.SendMessage(c, service.SendMessageInput{
			ThreadID:       req.ThreadID,
			SenderID:       actorID(c),
			ReceiverID:     req.ReceiverID,
			SenderType:     req.SenderType,
			MessageContent: req.MessageContent,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	}
}

func completionRequestHandler(svc *service.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ThreadID string `json:"threadId" binding:"required"`
			JobID    string `json:"jobId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		hs, err := svc.RequestCompletion(c, req.ThreadID, req.JobID, actorID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, hs)
	}
}

type handshakeReq struct {
	HandshakeID string `json:"handshakeId" binding:"required"`
}

func completionConfirmHandler(svc *service.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req handshakeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.ConfirmCompletion(c, req.HandshakeID, actorID(c))
		if err != nil {
			fail(c, err)
			return
		}
		if res.PaymentFailed {
			c.JSON(http.StatusOK, gin.H{
				"handshake":    res.Handshake,
				"paymentError": res.PaymentError,
				"message":      "Completion confirmed but payment failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"handshake": res.Handshake})
	}
}

func cashClientConfirmHandler(svc *service.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req handshakeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := svc.ClientConfirmCash(c, req.HandshakeID, actorID(c)); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Payment confirmation recorded"})
	}
}

func cashFreelancerConfirmHandler(svc *service.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req handshakeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := svc.FreelancerConfirmCash(c, req.HandshakeID, actorID(c)); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Payment process completed successfully"})
	}
}

func createWithdrawalHandler(svc *service.WithdrawalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Amount      string `json:"amount" binding:"required"`
			BankDetails string `json:"bankDetails"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		wr, err := svc.Create(c, actorID(c), amt, req.BankDetails)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, wr)
	}
}

func listWithdrawalsHandler(svc *service.WithdrawalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		var status *model.WithdrawalStatus
		if raw := c.Query("status"); raw != "" {
			st := model.WithdrawalStatus(raw)
			status = &st
		}
		reqs, total, err := svc.List(c, status, page, limit)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"requests":   reqs,
			"pagination": gin.H{"total": total, "page": page, "limit": limit},
		})
	}
}

func transitionWithdrawalHandler(svc *service.WithdrawalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		wr, err := svc.Transition(c, c.Param("id"), model.WithdrawalStatus(req.Status))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, wr)
	}
}
