package checkplus

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"passnice/internal/outcome"
	"passnice/pkg/htmlutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("passnice/checkplus")

const (
	msg_init_ok             = "session initialized"
	msg_already_initialized = "session is already initialized"
	msg_captcha_ok          = "captcha image retrieved"
	msg_send_ok             = "verification sms sent"
	msg_send_rejected       = "the provider rejected the identity or the captcha answer"
	msg_not_sent            = "verification sms has not been sent yet"
	msg_retry               = "incorrect verification code, please resubmit"
	msg_terminal            = "the provider rejected the verification code"
	msg_confirmed           = "verification completed"
	msg_already_confirmed   = "verification is already completed"
)

// Identity is what the provider checks against the carrier's subscriber
// records before it sends the sms.
type Identity struct {
	Name string
	// YYMMDD
	Birthdate string
	// first digit of the back half of the resident registration number, "1"..."8"
	Gender string
	// digits only, no dashes
	Phone string
}

func (i Identity) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return &outcome.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(i.Birthdate) != 6 || !isDigits(i.Birthdate) {
		return &outcome.ValidationError{Field: "birthdate", Message: "must be exactly 6 digits (YYMMDD)"}
	}
	if len(i.Gender) != 1 || i.Gender[0] < '1' || i.Gender[0] > '8' {
		return &outcome.ValidationError{Field: "gender", Message: "must be a single digit from 1 to 8"}
	}
	if len(i.Phone) < 10 || len(i.Phone) > 11 || !isDigits(i.Phone) {
		return &outcome.ValidationError{Field: "phone", Message: "must be 10 or 11 digits without dashes"}
	}
	return nil
}

func validateCaptchaAnswer(answer string) error {
	if answer == "" || !isDigits(answer) {
		return &outcome.ValidationError{Field: "captcha_answer", Message: "must be digits only"}
	}
	return nil
}

func validateCode(code string) error {
	if len(code) != 6 || !isDigits(code) {
		return &outcome.ValidationError{Field: "code", Message: "must be exactly 6 digits"}
	}
	return nil
}

// isDigits is true for a string of ascii digits only, which rules out the
// other unicode digit classes.
func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// orDefault cleans up a provider message for display, falling back when the
// provider did not send one.
func orDefault(message, fallback string) string {
	message = htmlutil.Normalize(message)
	if message == "" {
		return fallback
	}
	return message
}

func (s *Session) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("checkplus.session_id", s.Id),
		attribute.String("checkplus.carrier", s.Carrier.String()),
	))
}

var operationReports = map[string]string{
	OPERATION_INIT_SESSION: report_session_init,
	OPERATION_GET_CAPTCHA:  report_session_get_captcha,
	OPERATION_SEND_SMS:     report_session_send_sms,
	OPERATION_CHECK_SMS:    report_session_check_sms,
}

// finish reports the outcome of an operation, it must be called with the lock held.
func finish[T any](ctx context.Context, s *Session, span trace.Span, operation string, result outcome.Result[T], err error) {
	span.SetAttributes(attribute.String("checkplus.state", s.state.String()))
	report := operationReports[operation]

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if outcome.IsFatal(err) {
			s.tel.ReportBroken(report, err)
		} else {
			s.tel.ReportDebug(fmt.Sprintf("%s: %v", operation, err))
		}
		s.notify(ctx, operation, false, outcome.REASON_NONE, err.Error(), err)
	case !result.Success:
		span.SetAttributes(attribute.String("checkplus.reason", result.Reason.String()))
		s.tel.ReportWarning(report, result.Reason.String(), result.Message)
		s.notify(ctx, operation, false, result.Reason, result.Message, nil)
	default:
		s.notify(ctx, operation, true, outcome.REASON_NONE, result.Message, nil)
	}
}

// InitSession walks the provider from the company's entry page to the sms
// certification page, collecting every token the sms stages need. Calling it
// again on an initialized session is a failure result and changes nothing.
func (s *Session) InitSession(ctx context.Context, authType AuthType) (outcome.Result[outcome.Unit], error) {
	ctx, span := s.startSpan(ctx, "checkplus:InitSession")
	defer span.End()

	s.lock.Lock()
	defer s.lock.Unlock()

	result, err := s.initSession(ctx, authType)
	finish(ctx, s, span, OPERATION_INIT_SESSION, result, err)
	return result, err
}

func (s *Session) initSession(ctx context.Context, authType AuthType) (outcome.Result[outcome.Unit], error) {
	if s.broken != nil {
		return outcome.Result[outcome.Unit]{}, outcome.Discarded(s.broken)
	}
	if authType != AUTH_TYPE_SMS {
		return outcome.Result[outcome.Unit]{}, &outcome.ValidationError{
			Field:   "auth_type",
			Message: fmt.Sprintf("%q is not supported, only %s is", string(authType), AUTH_TYPE_SMS),
		}
	}
	if s.state != STATE_UNINITIALIZED {
		return outcome.Fail[outcome.Unit](outcome.REASON_ALREADY_INITIALIZED, msg_already_initialized), nil
	}

	wcCookie, err := s.opts.Cookie()
	if err != nil {
		return outcome.Result[outcome.Unit]{}, err
	}
	s.http.SetCookie(&http.Cookie{Name: wcCookieName, Value: wcCookie})
	s.tokens.set(TOKEN_WC_COOKIE, wcCookie)

	s.tel.ReportDebug("init: entry")
	entry, err := s.fetchEntry(ctx)
	if err != nil {
		return outcome.Result[outcome.Unit]{}, s.discard(err)
	}
	s.tokens.set(TOKEN_M, entry.m)
	s.tokens.set(TOKEN_ENCODE_DATA, entry.encodeData)

	s.tel.ReportDebug("init: callback")
	service, err := s.postCallback(ctx, entry)
	if err != nil {
		return outcome.Result[outcome.Unit]{}, s.discard(err)
	}
	s.tokens.set(TOKEN_SERVICE_INFO, service.serviceInfo)

	if s.opts.ReportTracer {
		s.tel.ReportDebug("init: tracer")
		ip, err := s.postTracer(ctx, service)
		if err != nil {
			return outcome.Result[outcome.Unit]{}, s.discard(err)
		}
		s.tokens.set(TOKEN_TRACER_IP, ip)
	}

	s.tel.ReportDebug("init: menu")
	err = s.postMenu(ctx, service)
	if err != nil {
		return outcome.Result[outcome.Unit]{}, s.discard(err)
	}

	if s.opts.ReportTracer {
		s.tel.ReportDebug("init: tracer report")
		err = s.reportTracer(ctx, tracerTokens{
			ip:       s.tokens.TracerIp,
			wcCookie: s.tokens.WcCookie,
		})
		if err != nil {
			return outcome.Result[outcome.Unit]{}, s.discard(err)
		}
	}

	s.tel.ReportDebug("init: method")
	cert, err := s.postMethod(ctx, s.tokens.service())
	if err != nil {
		return outcome.Result[outcome.Unit]{}, s.discard(err)
	}
	s.tokens.set(TOKEN_CERT_INFO_HASH, cert.certInfoHash)

	s.tel.ReportDebug("init: certification")
	captcha, err := s.postCertification(ctx, cert)
	if err != nil {
		return outcome.Result[outcome.Unit]{}, s.discard(err)
	}
	s.tokens.set(TOKEN_CAPTCHA_VERSION, captcha.captchaVersion)

	s.state = STATE_INITIALIZED
	return outcome.Ok(msg_init_ok, outcome.Unit{}), nil
}

// RetrieveCaptcha downloads the captcha image the user must answer before
// SendSmsVerification. It does not change the state of the session.
func (s *Session) RetrieveCaptcha(ctx context.Context) (outcome.Result[[]byte], error) {
	ctx, span := s.startSpan(ctx, "checkplus:RetrieveCaptcha")
	defer span.End()

	s.lock.Lock()
	defer s.lock.Unlock()

	result, err := s.retrieveCaptcha(ctx)
	finish(ctx, s, span, OPERATION_GET_CAPTCHA, result, err)
	return result, err
}

func (s *Session) retrieveCaptcha(ctx context.Context) (outcome.Result[[]byte], error) {
	if s.broken != nil {
		return outcome.Result[[]byte]{}, outcome.Discarded(s.broken)
	}
	missing := s.tokens.missing(TOKEN_CAPTCHA_VERSION)
	if s.state == STATE_UNINITIALIZED || len(missing) > 0 {
		return outcome.Result[[]byte]{}, &outcome.SessionNotInitializedError{
			Operation: OPERATION_GET_CAPTCHA,
			Missing:   missing,
		}
	}

	image, err := s.fetchCaptcha(ctx, s.tokens.captcha())
	if err != nil {
		return outcome.Result[[]byte]{}, s.discard(err)
	}
	return outcome.Ok(msg_captcha_ok, image), nil
}

// SendSmsVerification asks the provider to send the verification sms to the
// given identity. A rejection by the provider (wrong identity, wrong captcha)
// is a failure result, the caller may fetch a new captcha and try again.
func (s *Session) SendSmsVerification(ctx context.Context, identity Identity, captchaAnswer string) (outcome.Result[outcome.Unit], error) {
	ctx, span := s.startSpan(ctx, "checkplus:SendSmsVerification")
	defer span.End()

	s.lock.Lock()
	defer s.lock.Unlock()

	result, err := s.sendSmsVerification(ctx, identity, captchaAnswer)
	finish(ctx, s, span, OPERATION_SEND_SMS, result, err)
	return result, err
}

func (s *Session) sendSmsVerification(ctx context.Context, identity Identity, captchaAnswer string) (outcome.Result[outcome.Unit], error) {
	if s.broken != nil {
		return outcome.Result[outcome.Unit]{}, outcome.Discarded(s.broken)
	}
	if s.state == STATE_UNINITIALIZED {
		return outcome.Result[outcome.Unit]{}, &outcome.SessionNotInitializedError{
			Operation: OPERATION_SEND_SMS,
			Missing:   s.tokens.missing(TOKEN_SERVICE_INFO, TOKEN_CERT_INFO_HASH),
		}
	}
	if s.state == STATE_CONFIRMED {
		return outcome.Fail[outcome.Unit](outcome.REASON_ALREADY_CONFIRMED, msg_already_confirmed), nil
	}

	err := identity.Validate()
	if err != nil {
		return outcome.Result[outcome.Unit]{}, err
	}
	err = validateCaptchaAnswer(captchaAnswer)
	if err != nil {
		return outcome.Result[outcome.Unit]{}, err
	}

	res, err := s.postSmsCertification(ctx, s.tokens.service(), identity, captchaAnswer)
	if err != nil {
		return outcome.Result[outcome.Unit]{}, s.discard(err)
	}
	if res.Code != CODE_SUCCESS {
		return outcome.Fail[outcome.Unit](
			outcome.REASON_REJECTED,
			orDefault(res.Message, msg_send_rejected),
		), nil
	}

	service, refreshed, err := s.postSmsConfirm(ctx)
	if err != nil {
		return outcome.Result[outcome.Unit]{}, s.discard(err)
	}
	if refreshed {
		s.tokens.set(TOKEN_SERVICE_INFO, service.serviceInfo)
	} else {
		s.tel.ReportWarning(
			report_session_send_sms,
			"sms confirm page did not reissue SERVICE_INFO, keeping the previous one",
		)
	}

	s.state = STATE_SMS_SENT
	return outcome.Ok(orDefault(res.Message, msg_send_ok), outcome.Unit{}), nil
}

// CheckSmsVerification submits the 6 digit code from the sms. A RETRY answer
// keeps the session in SmsSent so the caller can resubmit.
func (s *Session) CheckSmsVerification(ctx context.Context, code string) (outcome.Result[outcome.Unit], error) {
	ctx, span := s.startSpan(ctx, "checkplus:CheckSmsVerification")
	defer span.End()

	s.lock.Lock()
	defer s.lock.Unlock()

	result, err := s.checkSmsVerification(ctx, code)
	finish(ctx, s, span, OPERATION_CHECK_SMS, result, err)
	return result, err
}

func (s *Session) checkSmsVerification(ctx context.Context, code string) (outcome.Result[outcome.Unit], error) {
	if s.broken != nil {
		return outcome.Result[outcome.Unit]{}, outcome.Discarded(s.broken)
	}
	switch s.state {
	case STATE_CONFIRMED:
		return outcome.Fail[outcome.Unit](outcome.REASON_ALREADY_CONFIRMED, msg_already_confirmed), nil
	case STATE_SMS_SENT:
	default:
		return outcome.Fail[outcome.Unit](outcome.REASON_NOT_SENT, msg_not_sent), nil
	}

	err := validateCode(code)
	if err != nil {
		return outcome.Result[outcome.Unit]{}, err
	}

	res, err := s.postSmsConfirmProc(ctx, s.tokens.service(), code)
	if err != nil {
		return outcome.Result[outcome.Unit]{}, s.discard(err)
	}

	switch res.Code {
	case CODE_SUCCESS:
		s.state = STATE_CONFIRMED
		return outcome.Ok(orDefault(res.Message, msg_confirmed), outcome.Unit{}), nil
	case CODE_RETRY:
		return outcome.Fail[outcome.Unit](outcome.REASON_RETRY, orDefault(res.Message, msg_retry)), nil
	default:
		return outcome.Fail[outcome.Unit](outcome.REASON_TERMINAL, orDefault(res.Message, msg_terminal)), nil
	}
}
