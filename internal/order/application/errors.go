package application

import "errors"

// Domain-level rejections. These are matched with errors.Is so callers can
// tell a business rule saying no apart from a store that failed; anything
// not in this list is a persistence failure and means nothing was applied.
var (
	ErrAuth              = errors.New("invalid member id or pin")
	ErrInsufficientFunds = errors.New("insufficient membership balance")
	ErrNotFound          = errors.New("order not found")
	ErrMemberNotFound    = errors.New("member not found")
	ErrAlreadyFinalized  = errors.New("order already processed or cancelled")
	ErrWindowExpired     = errors.New("cancellation window expired")
)
