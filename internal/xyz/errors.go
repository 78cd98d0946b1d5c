package xyz

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking across the registry and API.
var (
	ErrNotFound         = errors.New("definition not found")
	ErrUnauthenticated  = errors.New("caller is not authenticated")
	ErrPermissionDenied = errors.New("caller is not authorized")
)

// ValidationReason identifies which check rejected a draft.
type ValidationReason string

const (
	ReasonMalformedGraft    ValidationReason = "MALFORMED_GRAFT"
	ReasonMalformedTypespec ValidationReason = "MALFORMED_TYPESPEC"
	ReasonTypeMismatch      ValidationReason = "TYPE_MISMATCH"
	ReasonInvalidChannel    ValidationReason = "INVALID_CHANNEL"
)

// ValidationError rejects a draft with the first failed check. Drafts are
// either fully valid or rejected; there is no partial acceptance.
type ValidationError struct {
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Detail)
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// StoreError wraps store failures with the operation that hit them.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
