package auth

import (
	"errors"
	"fmt"
)

// Error taxonomy shared across packages. Callers compare with errors.Is.
var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrExpired             = errors.New("expired")
	ErrAlreadyUsed         = errors.New("already used")
	ErrValidation          = errors.New("validation failed")
	ErrSystemRoleProtected = errors.New("system role is protected")
	ErrTenantSuspended     = errors.New("tenant is suspended")
)

// Session verification failures. All of them are ErrUnauthenticated.
var (
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrUnauthenticated)
	ErrMalformedToken   = fmt.Errorf("%w: malformed token", ErrUnauthenticated)
	ErrSessionExpired   = fmt.Errorf("%w: session %w", ErrUnauthenticated, ErrExpired)
)

// ValidationError describes malformed input on a single field.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
