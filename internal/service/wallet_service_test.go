package service

import (
	"context"
	"sync"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/birdworks/escrow-service/internal/logger"
	"github.com/birdworks/escrow-service/internal/model"
	"github.com/birdworks/escrow-service/internal/repo"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

// recordingNotifier captures notifications instead of persisting them.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(_ context.Context, userID, _, title, _, _ string, _ map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, userID+":"+title)
}

type testEnv struct {
	ctx         context.Context
	db          *gorm.DB
	redis       redismock.ClientMock
	wallet      *WalletService
	jobs        *JobService
	chats       *ChatService
	withdrawals *WithdrawalService
	notes       *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	// each test gets its own named in-memory DB; cache=shared keeps it
	// alive across pooled connections
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.Client{}, &model.Freelancer{}, &model.Job{},
		&model.WalletTransaction{}, &model.WithdrawalRequest{},
		&model.ChatThread{}, &model.Message{}, &model.PaymentHandshake{},
		&model.Service{}, &model.Notification{}, &model.OutboxEvent{},
	))

	// cache writes are best-effort, unexpected commands just get logged
	rdb, rmock := redismock.NewClientMock()
	log, err := logger.NewLogger("error")
	assert.NoError(t, err)
	r := repo.NewRepository(db, rdb, &kafka.Writer{}, log)

	notes := &recordingNotifier{}
	wallet := NewWalletService(r, log)
	jobs := NewJobService(r, wallet, notes, log)
	chats := NewChatService(r, jobs, wallet, notes, log)
	withdrawals := NewWithdrawalService(r, notes, log)

	return &testEnv{
		ctx:         context.Background(),
		db:          db,
		redis:       rmock,
		wallet:      wallet,
		jobs:        jobs,
		chats:       chats,
		withdrawals: withdrawals,
		notes:       notes,
	}
}

func (e *testEnv) seedClient(t *testing.T, id, userID, wallet, reserved string) {
	assert.NoError(t, e.db.Create(&model.Client{
		ID: id, UserID: userID, FullName: "Client " + id,
		Wallet: d(wallet), ReservedAmount: d(reserved),
	}).Error)
}

func (e *testEnv) seedFreelancer(t *testing.T, id, userID, withdrawable string) {
	assert.NoError(t, e.db.Create(&model.Freelancer{
		ID: id, UserID: userID, FullName: "Freelancer " + id,
		WithdrawableAmount: d(withdrawable),
		TotalEarnings:      d(withdrawable),
		MonthlyEarnings:    d(withdrawable),
	}).Error)
}

func (e *testEnv) seedJob(t *testing.T, job *model.Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.JobTitle == "" {
		job.JobTitle = "Test Job"
	}
	if job.PaymentMethod == "" {
		job.PaymentMethod = model.PayPlatform
	}
	if job.JobStatus == "" {
		job.JobStatus = model.JobOpen
	}
	if job.PaymentStatus == "" {
		job.PaymentStatus = model.PaymentPending
	}
	assert.NoError(t, e.db.Create(job).Error)
}

func (e *testEnv) client(t *testing.T, id string) model.Client {
	var c model.Client
	assert.NoError(t, e.db.Where("id = ?", id).First(&c).Error)
	return c
}

func (e *testEnv) freelancer(t *testing.T, id string) model.Freelancer {
	var f model.Freelancer
	assert.NoError(t, e.db.Where("id = ?", id).First(&f).Error)
	return f
}

func (e *testEnv) transactions(t *testing.T, userID string, txType model.TransactionType) []model.WalletTransaction {
	var txs []model.WalletTransaction
	assert.NoError(t, e.db.
		Where("user_id = ? AND transaction_type = ?", userID, txType).
		Order("created_at").Find(&txs).Error)
	return txs
}

func TestReserveForJob(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "1000", "0")
	e.seedJob(t, &model.Job{ID: "j1", ClientID: "c1", BudgetAmount: d("300")})

	assert.NoError(t, e.wallet.ReserveForJob(e.ctx, "u-client", "j1", d("300")))

	c := e.client(t, "c1")
	assert.True(t, c.Wallet.Equal(d("1000")), "wallet must not move on reserve")
	assert.True(t, c.ReservedAmount.Equal(d("300")))

	// reservation audit records the unchanged wallet figure
	txs := e.transactions(t, "u-client", model.TxJobReserve)
	assert.Len(t, txs, 1)
	assert.True(t, txs[0].BalanceBefore.Equal(d("1000")))
	assert.True(t, txs[0].BalanceAfter.Equal(d("1000")))
	assert.True(t, txs[0].Amount.Equal(d("300")))
}

func TestReserveForJob_Insufficient(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "1000", "800")

	err := e.wallet.ReserveForJob(e.ctx, "u-client", "j1", d("300"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Contains(t, err.Error(), "Available: 200")
	assert.Contains(t, err.Error(), "Required: 300")

	c := e.client(t, "c1")
	assert.True(t, c.ReservedAmount.Equal(d("800")), "failed reserve must not change balances")
	assert.Empty(t, e.transactions(t, "u-client", model.TxJobReserve))
}

func TestReserveForJob_InvalidAmount(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "1000", "0")

	assert.ErrorIs(t, e.wallet.ReserveForJob(e.ctx, "u-client", "j1", d("0")), ErrInvalidAmount)
	assert.ErrorIs(t, e.wallet.ReserveForJob(e.ctx, "u-client", "j1", d("-5")), ErrInvalidAmount)
}

func TestReleaseReservation(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "1000", "300")
	e.seedJob(t, &model.Job{ID: "j1", ClientID: "c1", BudgetAmount: d("300"), IsAmountReserved: true})

	assert.NoError(t, e.wallet.ReleaseReservation(e.ctx, "u-client", "j1"))

	c := e.client(t, "c1")
	assert.True(t, c.Wallet.Equal(d("1000")))
	assert.True(t, c.ReservedAmount.IsZero())
	assert.Len(t, e.transactions(t, "u-client", model.TxJobRelease), 1)
}

func TestReleaseReservation_FlooredAtZero(t *testing.T) {
	e := newTestEnv(t)
	// reserved less than the budget being released; result floors at 0
	e.seedClient(t, "c1", "u-client", "1000", "100")
	e.seedJob(t, &model.Job{ID: "j1", ClientID: "c1", BudgetAmount: d("300"), IsAmountReserved: true})

	assert.NoError(t, e.wallet.ReleaseReservation(e.ctx, "u-client", "j1"))
	assert.True(t, e.client(t, "c1").ReservedAmount.IsZero())
}

func TestReleaseReservation_NotReserved(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "1000", "0")
	e.seedJob(t, &model.Job{ID: "j1", ClientID: "c1", BudgetAmount: d("300")})

	assert.ErrorIs(t, e.wallet.ReleaseReservation(e.ctx, "u-client", "j1"), ErrNotReserved)
}

func TestSettleJobPayment(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "1000", "1000")
	e.seedFreelancer(t, "f1", "u-free", "0")
	fid := "f1"
	e.seedJob(t, &model.Job{
		ID: "j1", ClientID: "c1", AssignedFreelancerID: &fid,
		BudgetAmount: d("1000"), BirdFeeAmount: d("100"),
		IsAmountReserved: true, PaymentStatus: model.PaymentReserved,
		JobStatus: model.JobInProgress,
	})

	settlement, err := e.wallet.SettleJobPayment(e.ctx, "j1")
	assert.NoError(t, err)
	assert.True(t, settlement.BudgetAmount.Equal(d("1000")))
	assert.True(t, settlement.FreelancerPayment.Equal(d("900")))
	assert.True(t, settlement.BirdFeeAmount.Equal(d("100")))

	c := e.client(t, "c1")
	assert.True(t, c.Wallet.IsZero())
	assert.True(t, c.ReservedAmount.IsZero())

	f := e.freelancer(t, "f1")
	assert.True(t, f.WithdrawableAmount.Equal(d("900")))
	assert.True(t, f.TotalEarnings.Equal(d("900")))
	assert.True(t, f.MonthlyEarnings.Equal(d("900")))

	// client debit
	clientTxs := e.transactions(t, "u-client", model.TxJobPayment)
	assert.Len(t, clientTxs, 1)
	assert.True(t, clientTxs[0].Amount.Equal(d("-1000")))
	assert.True(t, clientTxs[0].BalanceBefore.Equal(d("1000")))
	assert.True(t, clientTxs[0].BalanceAfter.IsZero())

	// freelancer credit, net of fee
	freeTxs := e.transactions(t, "u-free", model.TxJobPayment)
	assert.Len(t, freeTxs, 1)
	assert.True(t, freeTxs[0].Amount.Equal(d("900")))

	// informational fee row moves no balance
	feeTxs := e.transactions(t, "u-free", model.TxPlatformFee)
	assert.Len(t, feeTxs, 1)
	assert.True(t, feeTxs[0].Amount.Equal(d("-100")))
	assert.True(t, feeTxs[0].BalanceBefore.Equal(feeTxs[0].BalanceAfter))

	// settling a second time must fail and move nothing
	_, err = e.wallet.SettleJobPayment(e.ctx, "j1")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.True(t, e.freelancer(t, "f1").WithdrawableAmount.Equal(d("900")))
}

func TestSettleJobPayment_Guards(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "1000", "0")
	e.seedFreelancer(t, "f1", "u-free", "0")

	e.seedJob(t, &model.Job{ID: "j-unassigned", ClientID: "c1", BudgetAmount: d("100"), IsAmountReserved: true})
	_, err := e.wallet.SettleJobPayment(e.ctx, "j-unassigned")
	assert.ErrorIs(t, err, ErrNoFreelancerAssigned)

	fid := "f1"
	e.seedJob(t, &model.Job{ID: "j-unreserved", ClientID: "c1", AssignedFreelancerID: &fid, BudgetAmount: d("100")})
	_, err = e.wallet.SettleJobPayment(e.ctx, "j-unreserved")
	assert.ErrorIs(t, err, ErrNotReserved)

	_, err = e.wallet.SettleJobPayment(e.ctx, "j-missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDeductFeePostHoc_AllowsNegative(t *testing.T) {
	e := newTestEnv(t)
	e.seedFreelancer(t, "f1", "u-free", "20")
	e.seedJob(t, &model.Job{ID: "j1", ClientID: "c1", BudgetAmount: d("500")})

	assert.NoError(t, e.wallet.DeductFeePostHoc(e.ctx, "f1", d("50"), "j1"))

	f := e.freelancer(t, "f1")
	assert.True(t, f.WithdrawableAmount.Equal(d("-30")), "cash fee may push the balance negative")
	assert.True(t, f.TotalEarnings.Equal(d("20")), "earnings figures are untouched")

	txs := e.transactions(t, "u-free", model.TxPlatformFee)
	assert.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Equal(d("-50")))
	assert.True(t, txs[0].BalanceAfter.Equal(d("-30")))
}

func TestDeposit(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "100", "0")

	bal, err := e.wallet.Deposit(e.ctx, "u-client", d("50"), "", nil)
	assert.NoError(t, err)
	assert.True(t, bal.Equal(d("150")))
	assert.True(t, e.client(t, "c1").Wallet.Equal(d("150")))

	txs := e.transactions(t, "u-client", model.TxDeposit)
	assert.Len(t, txs, 1)
	assert.Equal(t, "Wallet deposit", txs[0].Description)

	_, err = e.wallet.Deposit(e.ctx, "u-client", d("0"), "", nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = e.wallet.Deposit(e.ctx, "u-nobody", d("10"), "", nil)
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestSettleFreelancerBalance(t *testing.T) {
	e := newTestEnv(t)
	e.seedFreelancer(t, "f1", "u-free", "0")
	// simulate fee debt
	assert.NoError(t, e.db.Model(&model.Freelancer{}).Where("id = ?", "f1").
		Update("withdrawable_amount", d("-30")).Error)

	bal, err := e.wallet.SettleFreelancerBalance(e.ctx, "u-free", d("30"), "", nil)
	assert.NoError(t, err)
	assert.True(t, bal.IsZero())
	assert.True(t, e.freelancer(t, "f1").WithdrawableAmount.IsZero())
}

func TestGetClientWallet_AvailableFlooredAtZero(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "100", "250")

	w, err := e.wallet.GetClientWallet(e.ctx, "u-client")
	assert.NoError(t, err)
	assert.True(t, w.TotalBalance.Equal(d("100")))
	assert.True(t, w.ReservedAmount.Equal(d("250")))
	assert.True(t, w.AvailableBalance.IsZero(), "display figure never goes negative")

	_, err = e.wallet.GetClientWallet(e.ctx, "u-nobody")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestGetBalance_CacheAside(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "150", "0")

	// cache hit serves without touching the row
	e.redis.ExpectGet("balance:u-client").SetVal("42")
	bal, err := e.wallet.GetBalance(e.ctx, "u-client")
	assert.NoError(t, err)
	assert.True(t, bal.Equal(d("42")))

	// miss falls back to the database
	bal, err = e.wallet.GetBalance(e.ctx, "u-client")
	assert.NoError(t, err)
	assert.True(t, bal.Equal(d("150")))

	// freelancers report the withdrawable figure
	e.seedFreelancer(t, "f1", "u-free", "77")
	bal, err = e.wallet.GetBalance(e.ctx, "u-free")
	assert.NoError(t, err)
	assert.True(t, bal.Equal(d("77")))

	_, err = e.wallet.GetBalance(e.ctx, "u-nobody")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestUpdateReservedForBudgetChange(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "1000", "300")

	// increase within available
	assert.NoError(t, e.wallet.UpdateReservedForBudgetChange(e.ctx, "u-client", "j1", d("300"), d("500")))
	assert.True(t, e.client(t, "c1").ReservedAmount.Equal(d("500")))

	// decrease releases the difference
	assert.NoError(t, e.wallet.UpdateReservedForBudgetChange(e.ctx, "u-client", "j1", d("500"), d("200")))
	assert.True(t, e.client(t, "c1").ReservedAmount.Equal(d("200")))

	// increase beyond available fails
	err := e.wallet.UpdateReservedForBudgetChange(e.ctx, "u-client", "j1", d("200"), d("1100"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, e.client(t, "c1").ReservedAmount.Equal(d("200")))

	// no-op when the budget did not change
	assert.NoError(t, e.wallet.UpdateReservedForBudgetChange(e.ctx, "u-client", "j1", d("200"), d("200")))
}

func TestGetTransactionHistory(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "0", "0")
	for i := 0; i < 5; i++ {
		_, err := e.wallet.Deposit(e.ctx, "u-client", d("10"), "", nil)
		assert.NoError(t, err)
	}

	txs, total, err := e.wallet.GetTransactionHistory(e.ctx, "u-client", 1, 3, nil, nil)
	assert.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, txs, 3)

	txs, _, err = e.wallet.GetTransactionHistory(e.ctx, "u-client", 2, 3, nil, nil)
	assert.NoError(t, err)
	assert.Len(t, txs, 2)

	depType := model.TxDeposit
	txs, total, err = e.wallet.GetTransactionHistory(e.ctx, "u-client", 1, 10, &depType, nil)
	assert.NoError(t, err)
	assert.EqualValues(t, 5, total)

	wType := model.TxWithdrawal
	_, total, err = e.wallet.GetTransactionHistory(e.ctx, "u-client", 1, 10, &wType, nil)
	assert.NoError(t, err)
	assert.Zero(t, total)
}
