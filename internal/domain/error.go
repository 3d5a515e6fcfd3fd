package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")

	// Payment lifecycle errors
	ErrNotApproved        = errors.New("payment has not been approved")
	ErrPaymentCancelled   = errors.New("payment was cancelled")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrTerminalConflict   = errors.New("payment reached conflicting terminal states")
	ErrUnknownTier        = errors.New("unknown subscription tier")

	// Client orchestration errors
	ErrAlreadyInProgress = errors.New("a payment is already being processed")
	ErrApprovalFailed    = errors.New("payment approval failed")
	ErrCompletionFailed  = errors.New("payment completion failed")
	ErrPhaseTimeout      = errors.New("payment phase timed out")
	ErrNotAuthenticated  = errors.New("user not authenticated")
)
