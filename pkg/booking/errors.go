package booking

import (
	"errors"
	"fmt"
)

// Business-rule failures. These are expected outcomes rendered to the caller.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrLessonNotFound    = errors.New("lesson not found")
	ErrLessonFull        = errors.New("lesson full")
	ErrNoValidMembership = errors.New("no valid membership")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrPlanNotFound      = errors.New("plan not found")
)

// Validation failures for malformed input.
var (
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidOpenID        = errors.New("invalid open id")
	ErrInvalidLessonID      = errors.New("invalid lesson id")
	ErrInvalidBookingID     = errors.New("invalid booking id")
	ErrInvalidCardID        = errors.New("invalid card id")
	ErrInvalidPlanID        = errors.New("invalid plan id")
	ErrInvalidUsageID       = errors.New("invalid usage id")
	ErrInvalidAmountCents   = errors.New("invalid amount cents")
	ErrInvalidBookingStatus = errors.New("invalid booking status")
	ErrInvalidCardStatus    = errors.New("invalid card status")
	ErrInvalidCardType      = errors.New("invalid card type")
	ErrInvalidUsageType     = errors.New("invalid usage type")
	ErrInvalidWindowStart   = errors.New("invalid window start")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// Store-level outcomes interpreted by the engine.
var (
	ErrBookingConflict     = errors.New("booking conflict")
	ErrStaleWrite          = errors.New("stale write")
	ErrInsufficientClasses = errors.New("insufficient classes")
	ErrCardInactive        = errors.New("card inactive")
	ErrCardNotFound        = errors.New("card not found")
	ErrUsageNotFound       = errors.New("usage not found")
)

// ErrSystemFailure marks unexpected failures; callers should retry later.
var ErrSystemFailure = errors.New("system failure")

var businessErrors = []error{
	ErrUserNotFound,
	ErrLessonNotFound,
	ErrLessonFull,
	ErrNoValidMembership,
	ErrBookingNotFound,
	ErrPlanNotFound,
	ErrInvalidUserID,
	ErrInvalidOpenID,
	ErrInvalidLessonID,
	ErrInvalidBookingID,
	ErrInvalidCardID,
	ErrInvalidPlanID,
	ErrInvalidAmountCents,
	ErrInvalidWindowStart,
}

// IsBusinessError reports whether err is an expected, user-facing rejection.
func IsBusinessError(err error) bool {
	if err == nil || errors.Is(err, ErrSystemFailure) {
		return false
	}
	for _, candidate := range businessErrors {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// ErrorCode returns the stable code for a business failure, or "system".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSystemFailure):
		return errorCodeSystem
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrLessonNotFound):
		return "lesson_not_found"
	case errors.Is(err, ErrLessonFull):
		return "lesson_full"
	case errors.Is(err, ErrNoValidMembership):
		return "no_valid_membership"
	case errors.Is(err, ErrBookingNotFound):
		return "booking_not_found"
	case errors.Is(err, ErrPlanNotFound):
		return "plan_not_found"
	case errors.Is(err, ErrInvalidAmountCents):
		return "invalid_amount_cents"
	case errors.Is(err, ErrInvalidWindowStart):
		return "invalid_window_start"
	case IsBusinessError(err):
		return "invalid_argument"
	default:
		return errorCodeSystem
	}
}

// classify leaves business failures recognizable and folds everything else into ErrSystemFailure.
func classify(operation string, subject string, err error) error {
	if err == nil {
		return nil
	}
	if IsBusinessError(err) {
		return WrapError(operation, subject, ErrorCode(err), err)
	}
	return WrapError(operation, subject, errorCodeSystem, fmt.Errorf("%w: %w", ErrSystemFailure, err))
}
