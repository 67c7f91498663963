package models

import "errors"

// Error taxonomy. OutOfStock and NotFound surface to callers; InvalidTransition
// and DuplicateEvent are absorbed at the webhook boundary and only logged;
// ConcurrencyConflict is retried internally before surfacing.
var (
	ErrOutOfStock            = errors.New("out of stock")
	ErrInvalidTransition     = errors.New("invalid order state transition")
	ErrDuplicateEvent        = errors.New("gateway event already processed")
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	ErrNotFound              = errors.New("not found")
	ErrConcurrencyConflict   = errors.New("concurrent update conflict")
)
