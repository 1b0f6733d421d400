package core

import "errors"

var (
	// ErrInvalidState is returned when an operation is attempted outside
	// the campaign state it requires.
	ErrInvalidState = errors.New("operation not allowed in current campaign state")

	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidShare       = errors.New("share must be positive")
	ErrAllocationMismatch = errors.New("recipient shares must sum to 10000 basis points")
	ErrNoRecipients       = errors.New("at least one recipient is required")
	ErrNoFundsRaised      = errors.New("no funds raised")

	ErrUnknownRecipient       = errors.New("recipient id not found in directory")
	ErrInactiveRecipient      = errors.New("recipient is not active")
	ErrRecipientNoLongerValid = errors.New("recipient deactivated since construction")

	ErrNotADonor    = errors.New("caller has not donated")
	ErrAlreadyVoted = errors.New("donor already voted")

	ErrTransferFailed = errors.New("token transfer rejected")

	ErrNotOwner       = errors.New("caller is not the campaign owner")
	ErrProtectedAsset = errors.New("donation token cannot be rescued")
)
