package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Billing errors
	ErrDuplicateSubscription = errors.New("user already has a live subscription")
	ErrSubscriptionCanceled  = errors.New("subscription is canceled")
	ErrGatewayFailure        = errors.New("payment gateway failure")
	ErrPersistenceFailure    = errors.New("persistence failure")
	ErrConcurrentUpdate      = errors.New("entity was modified concurrently")
	ErrBillingInProgress     = errors.New("billing already in progress for subscription")
	ErrLockNotAcquired       = errors.New("lock not acquired")
)
