package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/birdworks/escrow-service/internal/model"
)

// seedCashJob wires a client, freelancer, assigned CASH job and its thread.
func seedCashJob(t *testing.T, e *testEnv) (jobID, threadID string) {
	e.seedClient(t, "c1", "u-client", "0", "0")
	e.seedFreelancer(t, "f1", "u-free", "0")
	fid := "f1"
	e.seedJob(t, &model.Job{
		ID: "j1", ClientID: "c1", AssignedFreelancerID: &fid,
		BudgetAmount: d("500"), PaymentMethod: model.PayCash,
		JobStatus: model.JobInProgress,
	})
	assert.NoError(t, e.db.Create(&model.ChatThread{
		ID: "t1", JobID: "j1", FreelancerID: "f1", ClientID: "c1",
		Status: model.ChatAccepted,
	}).Error)
	return "j1", "t1"
}

func TestCreateOrGetThread(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "0", "0")
	e.seedFreelancer(t, "f1", "u-free", "0")
	e.seedJob(t, &model.Job{ID: "j1", ClientID: "c1", BudgetAmount: d("100")})

	thread, err := e.chats.CreateOrGetThread(e.ctx, "j1", "f1", "c1")
	assert.NoError(t, err)
	assert.Equal(t, model.ChatPending, thread.Status)
	assert.Contains(t, e.notes.calls, "u-client:New Job Application")

	// second call returns the same thread
	again, err := e.chats.CreateOrGetThread(e.ctx, "j1", "f1", "c1")
	assert.NoError(t, err)
	assert.Equal(t, thread.ID, again.ID)
}

func TestCreateOrGetThread_NegativeBalanceBlocked(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "0", "0")
	e.seedFreelancer(t, "f1", "u-free", "0")
	assert.NoError(t, e.db.Model(&model.Freelancer{}).Where("id = ?", "f1").
		Update("withdrawable_amount", d("-50")).Error)
	e.seedJob(t, &model.Job{ID: "j1", ClientID: "c1", BudgetAmount: d("100")})

	_, err := e.chats.CreateOrGetThread(e.ctx, "j1", "f1", "c1")
	assert.ErrorIs(t, err, ErrOutstandingBalance)
}

func TestSendMessage_CharacterLimitOnOpenJobs(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "0", "0")
	e.seedFreelancer(t, "f1", "u-free", "0")
	e.seedJob(t, &model.Job{ID: "j1", ClientID: "c1", BudgetAmount: d("100")})
	assert.NoError(t, e.db.Create(&model.ChatThread{
		ID: "t1", JobID: "j1", FreelancerID: "f1", ClientID: "c1",
		Status: model.ChatPending, CharacterLimit: 100,
	}).Error)

	long := strings.Repeat("x", 80)
	_, err := e.chats.SendMessage(e.ctx, SendMessageInput{
		ThreadID: "t1", SenderID: "u-free", ReceiverID: "u-client",
		SenderType: "FREELANCER", MessageContent: long,
	})
	assert.NoError(t, err)

	// cumulative: 80 already used, 30 more would exceed the cap of 100
	_, err = e.chats.SendMessage(e.ctx, SendMessageInput{
		ThreadID: "t1", SenderID: "u-free", ReceiverID: "u-client",
		SenderType: "FREELANCER", MessageContent: strings.Repeat("y", 30),
	})
	assert.ErrorIs(t, err, ErrMessageLimitExceeded)

	// other senders have their own budget
	_, err = e.chats.SendMessage(e.ctx, SendMessageInput{
		ThreadID: "t1", SenderID: "u-client", ReceiverID: "u-free",
		SenderType: "CLIENT", MessageContent: strings.Repeat("z", 90),
	})
	assert.NoError(t, err)
}

func TestSendMessage_NoLimitOnceJobInProgress(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "0", "0")
	e.seedFreelancer(t, "f1", "u-free", "0")
	e.seedJob(t, &model.Job{ID: "j1", ClientID: "c1", BudgetAmount: d("100"), JobStatus: model.JobInProgress})
	assert.NoError(t, e.db.Create(&model.ChatThread{
		ID: "t1", JobID: "j1", FreelancerID: "f1", ClientID: "c1",
		Status: model.ChatAccepted, CharacterLimit: 10,
	}).Error)

	_, err := e.chats.SendMessage(e.ctx, SendMessageInput{
		ThreadID: "t1", SenderID: "u-free", ReceiverID: "u-client",
		SenderType: "FREELANCER", MessageContent: strings.Repeat("x", 500),
	})
	assert.NoError(t, err)
}

func TestRequestCompletion(t *testing.T) {
	e := newTestEnv(t)
	jobID, threadID := seedCashJob(t, e)

	// only the assigned freelancer may request
	_, err := e.chats.RequestCompletion(e.ctx, threadID, jobID, "u-client")
	assert.ErrorIs(t, err, ErrUnauthorized)

	hs, err := e.chats.RequestCompletion(e.ctx, threadID, jobID, "u-free")
	assert.NoError(t, err)
	assert.Equal(t, model.HandshakePending, hs.State)
	assert.Equal(t, model.PayCash, hs.PaymentMethod)
	assert.True(t, hs.BudgetAmount.Equal(d("500")))

	// a display message points at the handshake
	var msg model.Message
	assert.NoError(t, e.db.Where("chat_thread_id = ? AND message_type = ?",
		threadID, model.MsgCompletionReq).First(&msg).Error)
	assert.Equal(t, hs.ID, *msg.HandshakeID)

	// a fresh request supersedes the old one
	hs2, err := e.chats.RequestCompletion(e.ctx, threadID, jobID, "u-free")
	assert.NoError(t, err)
	var old model.PaymentHandshake
	assert.NoError(t, e.db.First(&old, "id = ?", hs.ID).Error)
	assert.Equal(t, model.HandshakeClosed, old.State)
	assert.Equal(t, model.HandshakePending, hs2.State)
}

func TestConfirmCompletion_CashFlow(t *testing.T) {
	e := newTestEnv(t)
	jobID, threadID := seedCashJob(t, e)
	hs, err := e.chats.RequestCompletion(e.ctx, threadID, jobID, "u-free")
	assert.NoError(t, err)

	// only the client may confirm
	_, err = e.chats.ConfirmCompletion(e.ctx, hs.ID, "u-free")
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := e.chats.ConfirmCompletion(e.ctx, hs.ID, "u-client")
	assert.NoError(t, err)
	assert.False(t, res.PaymentFailed)
	assert.Equal(t, model.HandshakeCashInitiated, res.Handshake.State)

	// confirming again is stale
	_, err = e.chats.ConfirmCompletion(e.ctx, hs.ID, "u-client")
	assert.ErrorIs(t, err, ErrStaleHandshake)

	// freelancer cannot close the cash flow before the client confirms
	err = e.chats.FreelancerConfirmCash(e.ctx, hs.ID, "u-free")
	assert.ErrorIs(t, err, ErrClientMustConfirmFirst)
	assert.True(t, e.freelancer(t, "f1").WithdrawableAmount.IsZero(),
		"premature confirmation must not move money")

	assert.NoError(t, e.chats.ClientConfirmCash(e.ctx, hs.ID, "u-client"))
	var mid model.PaymentHandshake
	assert.NoError(t, e.db.First(&mid, "id = ?", hs.ID).Error)
	assert.Equal(t, model.HandshakeClientConfirmed, mid.State)

	assert.NoError(t, e.chats.FreelancerConfirmCash(e.ctx, hs.ID, "u-free"))

	var done model.PaymentHandshake
	assert.NoError(t, e.db.First(&done, "id = ?", hs.ID).Error)
	assert.Equal(t, model.HandshakeCompleted, done.State)

	var job model.Job
	assert.NoError(t, e.db.First(&job, "id = ?", jobID).Error)
	assert.Equal(t, model.JobCompleted, job.JobStatus)
	assert.Equal(t, model.PaymentCompleted, job.PaymentStatus)
	assert.True(t, job.BirdFeeAmount.Equal(d("50")), "10 percent default cash fee")

	// fee deducted post-hoc, balance goes negative
	f := e.freelancer(t, "f1")
	assert.True(t, f.WithdrawableAmount.Equal(d("-50")))

	// replaying the final step is stale and must not double-deduct
	err = e.chats.FreelancerConfirmCash(e.ctx, hs.ID, "u-free")
	assert.ErrorIs(t, err, ErrStaleHandshake)
	assert.True(t, e.freelancer(t, "f1").WithdrawableAmount.Equal(d("-50")))
}

func TestConfirmCompletion_PlatformFlow(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "1000", "1000")
	e.seedFreelancer(t, "f1", "u-free", "0")
	fid := "f1"
	e.seedJob(t, &model.Job{
		ID: "j1", ClientID: "c1", AssignedFreelancerID: &fid,
		BudgetAmount: d("1000"), BirdFeeAmount: d("100"),
		PaymentMethod: model.PayPlatform, JobStatus: model.JobInProgress,
		PaymentStatus: model.PaymentReserved, IsAmountReserved: true,
	})
	assert.NoError(t, e.db.Create(&model.ChatThread{
		ID: "t1", JobID: "j1", FreelancerID: "f1", ClientID: "c1",
		Status: model.ChatAccepted,
	}).Error)

	hs, err := e.chats.RequestCompletion(e.ctx, "t1", "j1", "u-free")
	assert.NoError(t, err)

	res, err := e.chats.ConfirmCompletion(e.ctx, hs.ID, "u-client")
	assert.NoError(t, err)
	assert.False(t, res.PaymentFailed)
	assert.Equal(t, model.HandshakeSettled, res.Handshake.State)

	var job model.Job
	assert.NoError(t, e.db.First(&job, "id = ?", "j1").Error)
	assert.Equal(t, model.JobCompleted, job.JobStatus)
	assert.Equal(t, model.PaymentCompleted, job.PaymentStatus)
	assert.True(t, e.client(t, "c1").Wallet.IsZero())
	assert.True(t, e.freelancer(t, "f1").WithdrawableAmount.Equal(d("900")))

	// review request lands in the thread
	var review model.Message
	assert.NoError(t, e.db.Where("chat_thread_id = ? AND message_type = ?",
		"t1", model.MsgReviewRequest).First(&review).Error)
}

func TestConfirmCompletion_PlatformPaymentFailure(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "0", "0")
	e.seedFreelancer(t, "f1", "u-free", "0")
	fid := "f1"
	// reservation flag never set, so settlement will fail
	e.seedJob(t, &model.Job{
		ID: "j1", ClientID: "c1", AssignedFreelancerID: &fid,
		BudgetAmount: d("1000"), PaymentMethod: model.PayPlatform,
		JobStatus: model.JobInProgress,
	})
	assert.NoError(t, e.db.Create(&model.ChatThread{
		ID: "t1", JobID: "j1", FreelancerID: "f1", ClientID: "c1",
		Status: model.ChatAccepted,
	}).Error)

	hs, err := e.chats.RequestCompletion(e.ctx, "t1", "j1", "u-free")
	assert.NoError(t, err)

	res, err := e.chats.ConfirmCompletion(e.ctx, hs.ID, "u-client")
	assert.NoError(t, err)
	assert.True(t, res.PaymentFailed)
	assert.NotEmpty(t, res.PaymentError)

	// job is force-marked completed so it never looks stuck
	var job model.Job
	assert.NoError(t, e.db.First(&job, "id = ?", "j1").Error)
	assert.Equal(t, model.JobCompleted, job.JobStatus)
	assert.Equal(t, model.PaymentFailed, job.PaymentStatus)

	// nobody got paid
	assert.True(t, e.freelancer(t, "f1").WithdrawableAmount.IsZero())

	var support model.Message
	assert.NoError(t, e.db.Where("chat_thread_id = ? AND message_content LIKE ?",
		"t1", "%contact support%").First(&support).Error)
}

func TestConfirmCompletion_StaleHandshake(t *testing.T) {
	e := newTestEnv(t)
	jobID, threadID := seedCashJob(t, e)
	hs1, err := e.chats.RequestCompletion(e.ctx, threadID, jobID, "u-free")
	assert.NoError(t, err)
	_, err = e.chats.RequestCompletion(e.ctx, threadID, jobID, "u-free")
	assert.NoError(t, err)

	// the superseded handshake can no longer be confirmed
	_, err = e.chats.ConfirmCompletion(e.ctx, hs1.ID, "u-client")
	assert.ErrorIs(t, err, ErrStaleHandshake)

	_, err = e.chats.ConfirmCompletion(e.ctx, "missing", "u-client")
	assert.ErrorIs(t, err, ErrStaleHandshake)
}

func TestFreelancerConfirmCash_FeeFromServiceConfig(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, "c1", "u-client", "0", "0")
	e.seedFreelancer(t, "f1", "u-free", "0")
	feeCfg := `{"feeStructure":[{"minBudget":0,"feeType":"FIXED","feeValue":25}]}`
	assert.NoError(t, e.db.Create(&model.Service{ID: "s1", Name: "Moving", BirdFee: &feeCfg}).Error)
	fid := "f1"
	e.seedJob(t, &model.Job{
		ID: "j1", ClientID: "c1", AssignedFreelancerID: &fid,
		BudgetAmount: d("500"), PaymentMethod: model.PayCash,
		ServiceID: strPtr("s1"), JobStatus: model.JobInProgress,
	})
	assert.NoError(t, e.db.Create(&model.ChatThread{
		ID: "t1", JobID: "j1", FreelancerID: "f1", ClientID: "c1",
		Status: model.ChatAccepted,
	}).Error)

	hs, err := e.chats.RequestCompletion(e.ctx, "t1", "j1", "u-free")
	assert.NoError(t, err)
	_, err = e.chats.ConfirmCompletion(e.ctx, hs.ID, "u-client")
	assert.NoError(t, err)
	assert.NoError(t, e.chats.ClientConfirmCash(e.ctx, hs.ID, "u-client"))
	assert.NoError(t, e.chats.FreelancerConfirmCash(e.ctx, hs.ID, "u-free"))

	var job model.Job
	assert.NoError(t, e.db.First(&job, "id = ?", "j1").Error)
	assert.True(t, job.BirdFeeAmount.Equal(d("25")), "configured fee beats the 10 percent default")
	assert.True(t, e.freelancer(t, "f1").WithdrawableAmount.Equal(d("-25")))
}
