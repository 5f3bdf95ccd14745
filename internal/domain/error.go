package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Backend contract errors (Initiator / Finalizer)
	ErrAuthRequired     = errors.New("authentication required")
	ErrValidationFailed = errors.New("validation failed")
	ErrServerError      = errors.New("server error")

	// Checkout flow errors
	ErrCheckoutInProgress  = errors.New("checkout already in progress")
	ErrCloseDuringFinalize = errors.New("checkout is finalizing and cannot be closed")
	ErrNotTerminal         = errors.New("checkout is not in a terminal state")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrUnknownGateway      = errors.New("unknown payment gateway")
	ErrNoPendingGateway    = errors.New("no checkout is waiting for this gateway handle")
	ErrRateLimited         = errors.New("too many checkout attempts")
	ErrSessionNotFound     = errors.New("checkout session not found")

	// Storage errors
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
