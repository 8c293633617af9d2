package stream

import "errors"

// Configuration errors — detected during Initialize, before any state is written.
var (
	ErrNilPayer            = errors.New("payer identity is nil")
	ErrNilRecipient        = errors.New("recipient identity is nil")
	ErrRecipientIsStream   = errors.New("recipient cannot be the stream itself")
	ErrZeroAmount          = errors.New("total amount must be positive")
	ErrInvalidWindow       = errors.New("stop time must be after start time")
	ErrAmountBelowDuration = errors.New("total amount must cover at least one unit per second")
)

// State and authorization errors.
var (
	ErrAlreadyInitialized  = errors.New("stream already initialized")
	ErrNotInitialized      = errors.New("stream not initialized")
	ErrNotAuthorized       = errors.New("caller is neither payer nor recipient")
	ErrNotPayer            = errors.New("caller is not the payer")
	ErrZeroWithdrawal      = errors.New("withdrawal amount must be positive")
	ErrInsufficientBalance = errors.New("amount exceeds withdrawable balance")
	ErrStreamCancelled     = errors.New("stream already cancelled")
	ErrStreamExhausted     = errors.New("stream fully exhausted")
	ErrExcessFloorViolated = errors.New("recovery would dip below the balance owed to recipient")
)
