package provider

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that an expected stack or cluster is absent or not
// uniquely identified.
var ErrNotFound = errors.New("not found")

// Error wraps a failed call to a cloud provider API. Callers decide whether
// to retry; nothing in this module retries provider calls.
type Error struct {
	Service string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err as a provider *Error, or nil when err is nil.
func Wrap(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Service: service, Op: op, Err: err}
}

// IsProviderError reports whether err carries a provider *Error.
func IsProviderError(err error) bool {
	var perr *Error
	return errors.As(err, &perr)
}
