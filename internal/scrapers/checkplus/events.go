package checkplus

import (
	"context"
	"time"

	"passnice/internal/outcome"

	"github.com/go-resty/resty/v2"
)

type State int

const (
	STATE_UNINITIALIZED State = iota
	STATE_INITIALIZED
	STATE_SMS_SENT
	STATE_CONFIRMED
)

func (s State) String() string {
	switch s {
	case STATE_UNINITIALIZED:
		return "uninitialized"
	case STATE_INITIALIZED:
		return "initialized"
	case STATE_SMS_SENT:
		return "sms_sent"
	case STATE_CONFIRMED:
		return "confirmed"
	}
	return "unknown"
}

// AuthType is the verification method picked on the provider's menu page.
type AuthType string

// the provider also offers app based verification, it is not driven here.
const AUTH_TYPE_SMS AuthType = "SMS"

const (
	OPERATION_INIT_SESSION = "init_session"
	OPERATION_GET_CAPTCHA  = "get_captcha"
	OPERATION_SEND_SMS     = "send_sms_verification"
	OPERATION_CHECK_SMS    = "check_sms_verification"
)

// AttemptEvent describes the outcome of one public operation on a session.
type AttemptEvent struct {
	SessionId string
	Carrier   Carrier
	Operation string
	// the state after the operation returned
	State   State
	Success bool
	Reason  outcome.Reason
	Message string
	// set when the operation returned an error instead of a result
	Err  error
	Time time.Time
}

// Listener is notified after every public operation. It is called with the
// session lock held, so it must not call back into the session.
type Listener interface {
	OnAttempt(ctx context.Context, event AttemptEvent)
}

// Observer sees every raw response the session receives. It cannot change the
// flow, anything it does is a side effect.
type Observer interface {
	Observe(ctx context.Context, res *resty.Response)
}

// Observers fans a response out to several observers in order.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, res *resty.Response) {
	for _, observer := range o {
		observer.Observe(ctx, res)
	}
}
