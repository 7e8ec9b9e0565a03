package access

import (
	"errors"
	"fmt"
)

// Kind classifies a typed access failure.
type Kind string

// Error kinds returned to callers.
const (
	KindInsufficientCredits Kind = "INSUFFICIENT_CREDITS"
	KindDuplicateSession    Kind = "DUPLICATE_SESSION"
	KindFetchFailed         Kind = "FETCH_FAILED"
	KindTierRestricted      Kind = "TIER_RESTRICTED"
	KindStalePolicy         Kind = "STALE_POLICY"
	KindDataTypeDisabled    Kind = "DATA_TYPE_DISABLED"
)

// ErrInvalidRequest is returned for requests missing a user, data type or time range.
var ErrInvalidRequest = errors.New("access: invalid request")

// Error is a typed access failure. Storage failures are never wrapped in it.
type Error struct {
	Kind             Kind
	CreditsRequired  int64
	CreditsAvailable int64
	Err              error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindInsufficientCredits:
		return fmt.Sprintf("access: %s (required %d, available %d)", e.Kind, e.CreditsRequired, e.CreditsAvailable)
	case e.Err != nil:
		return fmt.Sprintf("access: %s: %v", e.Kind, e.Err)
	default:
		return "access: " + string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a typed access error.
func KindOf(err error) (Kind, bool) {
	var accessErr *Error
	if errors.As(err, &accessErr) {
		return accessErr.Kind, true
	}
	return "", false
}

// ErrorBody is the wire form of a typed error.
type ErrorBody struct {
	Kind             Kind   `json:"kind"`
	Message          string `json:"message,omitempty"`
	CreditsRequired  *int64 `json:"creditsRequired,omitempty"`
	CreditsAvailable *int64 `json:"creditsAvailable,omitempty"`
}

// Body converts e to its wire form.
func (e *Error) Body() *ErrorBody {
	body := &ErrorBody{Kind: e.Kind}
	if e.Err != nil {
		body.Message = e.Err.Error()
	}
	if e.Kind == KindInsufficientCredits {
		required, available := e.CreditsRequired, e.CreditsAvailable
		body.CreditsRequired = &required
		body.CreditsAvailable = &available
	}
	return body
}
