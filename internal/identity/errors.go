package identity

import "errors"

// Kind classifies a failure for the request boundary. Every kind is
// recoverable by the caller; none terminates the process.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
)

// Error is a structured core failure: a machine-readable kind plus a
// human message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// ErrExhaustedRetries means no unique RIN was found within the
	// bounded number of attempts.
	ErrExhaustedRetries = &Error{Kind: KindConflict, Message: "could not allocate a unique RIN"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "RIN not found"}
	ErrAlreadyClaimed   = &Error{Kind: KindConflict, Message: "RIN already claimed"}
	ErrInvalidToken     = &Error{Kind: KindAuth, Message: "invalid claim token"}
	ErrNameTaken        = &Error{Kind: KindConflict, Message: "agent name already exists"}
	ErrUnauthorized     = &Error{Kind: KindAuth, Message: "unauthorized"}
)

// Invalid builds a validation failure with the given message.
func Invalid(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// KindOf extracts the failure kind, or "" for non-core errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
