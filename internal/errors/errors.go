package errors

import (
	"errors"
	"fmt"
)

// Common error types for the insights service
var (
	// Configuration errors
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrMissingCredential = errors.New("missing credential")

	// Tenant errors
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrInvalidTenant     = errors.New("invalid tenant")
	ErrNoExternalTenant  = errors.New("tenant has no external directory id")
	ErrNoRMMOrganization = errors.New("tenant has no rmm organization id")

	// Token errors
	ErrTokenLifetimeTooShort = errors.New("token lifetime shorter than refresh margin")

	// Action errors
	ErrUnknownAction   = errors.New("unknown device action")
	ErrDuplicateAction = errors.New("action request already dispatched")
	ErrMissingDeviceID = errors.New("device id is required")

	// Paging errors
	ErrPageCursorStalled = errors.New("page cursor did not advance")

	// Access errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// AuthError is returned when a token exchange fails. Status is 0 when the
// token endpoint was never reached (e.g. discovery failed).
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("token exchange failed: status %d: %s", e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("token exchange failed: status %d", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	}
	return "token exchange failed"
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is returned for any non-2xx response from an external API.
type APIError struct {
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request %s failed: status %d", e.Path, e.Status)
}

// TimeoutError is returned when an external call does not complete in time.
// Fan-out callers treat it exactly like an APIError.
type TimeoutError struct {
	Path string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("api request %s timed out", e.Path)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Status
	}
	return 0
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import
func New(text string) error {
	return errors.New(text)
}
