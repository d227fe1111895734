package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Admission
	ErrValidation    = errors.New("validation failed")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrRateLimited   = errors.New("too many requests")

	// Access control on status/cancel
	ErrForbidden      = errors.New("forbidden")
	ErrTaskNotFound   = fmt.Errorf("task not found: %w", ErrNotFound)
	ErrNotCancellable = errors.New("only pending tasks can be cancelled")

	// Pipeline
	ErrTransientService  = errors.New("transient service failure")
	ErrTerminalFailure   = errors.New("attempts exhausted")
	ErrQueueUnavailable  = errors.New("job queue unavailable")
	ErrQueueEmpty        = errors.New("no job ready")
	ErrLeaseLost         = errors.New("job lease lost")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrLockHeld          = errors.New("lock held by another instance")

	// Storage layer
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")
)
