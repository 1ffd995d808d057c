package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuery   = errors.New("query is required")
	ErrUnknownSource  = errors.New("unknown source")
	ErrNoSources      = errors.New("no enabled sources configured")
	ErrDetailFetch    = errors.New("detail-fetch-error")
	ErrReadOnlyConfig = errors.New("source settings are read-only")
)

// FetchError is produced by the upstream HTTP call wrapper. Reason is one of
// FailureTimeout, FailureNetwork or FailureUnknown.
type FetchError struct {
	Reason FailureReason
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "fetch error"
	}
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ReasonOf narrows an error to a failure reason. Anything that is not a
// FetchError is unknown-error.
func ReasonOf(err error) FailureReason {
	if err == nil {
		return ""
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.Reason != "" {
		return fetchErr.Reason
	}
	if errors.Is(err, ErrDetailFetch) {
		return FailureDetailFetch
	}
	return FailureUnknown
}

// MessageOf returns the innermost message for unknown errors so callers see
// the upstream text verbatim.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.Err != nil {
		return fetchErr.Err.Error()
	}
	return err.Error()
}
