package service

import "errors"

// Business-rule failures. These surface as the failure of the enclosing
// database transaction; callers match with errors.Is.
var (
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrNotReserved            = errors.New("amount not reserved for this job")
	ErrAlreadyPaid            = errors.New("payment already completed for this job")
	ErrNoFreelancerAssigned   = errors.New("no freelancer assigned to this job")
	ErrJobNotFound            = errors.New("job not found")
	ErrClientNotFound         = errors.New("client not found")
	ErrFreelancerNotFound     = errors.New("freelancer not found")
	ErrThreadNotFound         = errors.New("chat thread not found")
	ErrWithdrawalNotFound     = errors.New("withdrawal request not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrClientMustConfirmFirst = errors.New("client must confirm payment first")
	ErrStaleHandshake         = errors.New("this request is no longer active")
	ErrOutstandingBalance     = errors.New("outstanding negative balance, settle platform fees before applying for new jobs")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrMessageLimitExceeded   = errors.New("message would exceed cumulative character limit")
)
