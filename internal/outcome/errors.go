package outcome

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionDiscarded is returned by every operation on a session that has
// already seen a transport or parse failure. The remote state may no longer
// match the local tokens, so the session must be rebuilt.
var ErrSessionDiscarded = errors.New("session discarded after a fatal error")

// TransportError means the network exchange for a stage did not complete.
type TransportError struct {
	Stage string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error at %s: %v", e.Stage, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError means a required token was missing from a response.
type ParseError struct {
	Stage string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse error: could not find %s", e.Field)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s in %s response", msg, e.Stage)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError means caller input failed a local precondition.
// No network call is made when this is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// SessionNotInitializedError means an operation was invoked before the stage
// that produces its inputs completed.
type SessionNotInitializedError struct {
	Operation string
	Missing   []string
}

func (e *SessionNotInitializedError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("%s: session is not initialized", e.Operation)
	}
	return fmt.Sprintf(
		"%s: session is not initialized (missing %s)",
		e.Operation,
		strings.Join(e.Missing, ", "),
	)
}

// discarded joins the fatal error that broke a session with ErrSessionDiscarded
// so callers can match either.
type discarded struct {
	cause error
}

func Discarded(cause error) error {
	return discarded{cause: cause}
}

func (d discarded) Error() string {
	return fmt.Sprintf("%s: %v", ErrSessionDiscarded.Error(), d.cause)
}

func (d discarded) Unwrap() []error {
	return []error{ErrSessionDiscarded, d.cause}
}

// IsFatal reports whether err means the session must be discarded.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var transport *TransportError
	var parse *ParseError
	return errors.As(err, &transport) ||
		errors.As(err, &parse) ||
		errors.Is(err, ErrSessionDiscarded)
}
