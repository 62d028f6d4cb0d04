package models

import "errors"

// PermanentError marks a send or processing failure that will not succeed on
// retry (e.g. an invalid phone number or a payload rejected by the provider).
// Transient failures — connectivity, provider outages — are returned as plain
// errors and are the only ones worth retrying.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a permanent, non-retryable failure. A nil err
// returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is (or wraps) a permanent failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
