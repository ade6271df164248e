package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	CodeSessionInactive = "SESSION_INACTIVE"
	CodeAlertClosed     = "ALERT_CLOSED"
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

// DecompressionError rejects an encoded batch that could not be decoded.
type DecompressionError struct{ Message string }

func (e *DecompressionError) Error() string { return e.Message }

// TransientError means the caller may retry the same request later.
type TransientError struct {
	Message string
	Err     error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *TransientError) Unwrap() error { return e.Err }

func inactiveSession() error {
	return &ConflictError{Code: CodeSessionInactive, Message: "Viewing session is no longer active"}
}

// isTransient reports whether err is a storage failure worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	return false
}

// storageError wraps err, upgrading retryable failures to TransientError.
func storageError(op string, err error) error {
	if isTransient(err) {
		return &TransientError{Message: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
