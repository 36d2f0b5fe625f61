package errors

import (
	"errors"
	"fmt"
)

var (
	// Print job errors
	ErrPrintJobNotFound       = errors.New("print job not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrOwnershipViolation     = errors.New("print job belongs to another printer")

	// Printer errors
	ErrPrinterNotFound      = errors.New("printer not found")
	ErrInvalidCredential    = errors.New("invalid printer credential")
	ErrPrinterAlreadyExists = errors.New("printer already exists")

	// Storage errors
	ErrTransactionTooLarge = errors.New("transaction too large")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrValidationFailed) match any ValidationError.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// InvalidTransition builds the error returned when a print job cannot move
// from one status to another.
func InvalidTransition(from, to string) *DomainError {
	return NewDomainError(
		"invalid_transition",
		"cannot transition from "+from+" to "+to,
		ErrInvalidStateTransition,
	)
}

// TooLarge reports a write batch that exceeds the transaction cap.
func TooLarge(count, limit int) *DomainError {
	return NewDomainError(
		"transaction_too_large",
		fmt.Sprintf("%d operations exceed the transaction limit of %d", count, limit),
		ErrTransactionTooLarge,
	)
}
