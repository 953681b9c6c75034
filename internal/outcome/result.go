// Package outcome holds the result and error model shared by the verification flow.
//
// There are two ways an operation can fail. Business failures (the provider
// rejected the request for a domain reason) come back as a Result whose Success
// field is false, and the caller can retry them within the same session.
// Everything else (transport, parse, validation and ordering problems) is
// returned as an error, see errors.go.
package outcome

// Reason classifies a business failure.
type Reason int

const (
	REASON_NONE Reason = iota
	// InitSession was called on a session that already left the Uninitialized state.
	REASON_ALREADY_INITIALIZED
	// CheckSmsVerification was called before a successful SendSmsVerification.
	REASON_NOT_SENT
	// the provider rejected the identity fields or the captcha answer.
	REASON_REJECTED
	// the provider asked for the sms code to be resubmitted.
	REASON_RETRY
	// the provider rejected the sms code and the flow cannot continue.
	REASON_TERMINAL
	// the session has already been confirmed.
	REASON_ALREADY_CONFIRMED
)

func (r Reason) String() string {
	switch r {
	case REASON_NONE:
		return "none"
	case REASON_ALREADY_INITIALIZED:
		return "already_initialized"
	case REASON_NOT_SENT:
		return "not_sent"
	case REASON_REJECTED:
		return "rejected"
	case REASON_RETRY:
		return "retry"
	case REASON_TERMINAL:
		return "terminal"
	case REASON_ALREADY_CONFIRMED:
		return "already_confirmed"
	}
	return "unknown"
}

// Unit is the payload of operations that produce no data.
type Unit struct{}

// Result is either a success carrying Data or a failure carrying a Reason.
// Construct it with Ok or Fail, never directly.
type Result[T any] struct {
	Success bool
	Message string
	Reason  Reason
	Data    T
}

func Ok[T any](message string, data T) Result[T] {
	return Result[T]{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func Fail[T any](reason Reason, message string) Result[T] {
	return Result[T]{
		Success: false,
		Message: message,
		Reason:  reason,
	}
}

// Retryable reports whether the caller may resubmit within the same session.
func (r Result[T]) Retryable() bool {
	if r.Success {
		return false
	}
	return r.Reason == REASON_REJECTED || r.Reason == REASON_RETRY
}
