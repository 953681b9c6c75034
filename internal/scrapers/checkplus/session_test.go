package checkplus

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"passnice/internal/components/chrono"
	"passnice/internal/components/telemetry"
	"passnice/internal/mirror"
	"passnice/internal/outcome"
	"passnice/pkg/htmlutil"

	"github.com/go-resty/resty/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var testIdentity = Identity{
	Name:      "홍길동",
	Birthdate: "990101",
	Gender:    "1",
	Phone:     "01012345678",
}

func initSession(t *testing.T, session *Session) {
	res, err := session.InitSession(context.Background(), AUTH_TYPE_SMS)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
}

func sendSms(t *testing.T, session *Session) {
	res, err := session.SendSmsVerification(context.Background(), testIdentity, "123456")
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
}

func TestInitSession(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_KT)

	require.Equal(t, STATE_UNINITIALIZED, session.State())
	initSession(t, session)
	require.Equal(t, STATE_INITIALIZED, session.State())

	tokens := session.Tokens()
	expected := TokenSet{
		M:              "M1",
		EncodeData:     "E1",
		ServiceInfo:    "S1",
		CertInfoHash:   "C1",
		CaptchaVersion: "V1",
		WcCookie:       tokens.WcCookie,
		Version:        6,
	}
	diff := cmp.Diff(expected, tokens)
	if diff != "" {
		t.Fatal(diff)
	}
	require.Regexp(t, `^[0-9a-f-]{36}_T_\d{5}_WC$`, tokens.WcCookie)

	callback := stub.last(path_callback)
	require.Equal(t, "M1", callback.form.Get("m"))
	require.Equal(t, "E1", callback.form.Get("EncodeData"))

	var sentCookie string
	for _, c := range callback.cookies {
		if c.Name == "wcCookie" {
			sentCookie = c.Value
		}
	}
	require.Equal(t, tokens.WcCookie, sentCookie)

	require.Equal(t, "S1", stub.last(path_menu).form.Get("accTkInfo"))

	method := stub.last(path_method)
	require.Equal(t, "S1", method.form.Get("accTkInfo"))
	require.Equal(t, "KT", method.form.Get("selectMobileCo"))
	require.Equal(t, "Windows", method.form.Get("os"))

	certification := stub.last(path_certification)
	require.Equal(t, "C1", certification.form.Get("certInfoHash"))
	require.Equal(t, "S1", certification.form.Get("accTkInfo"))
	require.Equal(t, "Y", certification.form.Get("mobileCertAgree"))

	require.Equal(t, 0, stub.hits(path_tracer))
	require.Equal(t, 0, stub.hits(stub_path_tracer_api))
}

func TestInitSessionTwice(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_SK)

	initSession(t, session)
	before := session.Tokens()
	hits := stub.totalHits()

	res, err := session.InitSession(context.Background(), AUTH_TYPE_SMS)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, outcome.REASON_ALREADY_INITIALIZED, res.Reason)
	require.Equal(t, before, session.Tokens())
	require.Equal(t, hits, stub.totalHits())
	require.Equal(t, STATE_INITIALIZED, session.State())
}

func TestInitSessionWithTracer(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_LM, func(o *Options) {
		o.ReportTracer = true
	})

	initSession(t, session)
	tokens := session.Tokens()
	require.Equal(t, "10.0.0.1", tokens.TracerIp)

	require.Equal(t, "S1", stub.last(path_tracer).form.Get("accTkInfo"))

	report := stub.last(stub_path_tracer_api)
	require.Equal(t, ISP_LGU, report.form.Get("host"))
	require.Equal(t, "10.0.0.1", report.form.Get("ip"))
	require.Equal(t, tokens.WcCookie, report.form.Get("loginId"))
	require.Equal(t, "80", report.form.Get("port"))
	require.Equal(t, "mobile_cert_telecom", report.form.Get("pageUrl"))
	require.True(t, report.form.Has("userAgent"))
	require.Equal(t, "", report.form.Get("userAgent"))
}

func TestInitSessionTracerMissingIp(t *testing.T) {
	stub := newStubProvider(t)
	stub.respond(path_tracer, page(`<html><script>callTracerApiInput("tracer", "unknown");</script></html>`))
	session, _ := newTestSession(t, stub, CARRIER_SK, func(o *Options) {
		o.ReportTracer = true
	})

	_, err := session.InitSession(context.Background(), AUTH_TYPE_SMS)
	var parseErr *outcome.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, TOKEN_TRACER_IP, parseErr.Field)
	require.Equal(t, 0, stub.hits(path_menu))
}

func TestInitSessionTransportFailure(t *testing.T) {
	stub := newStubProvider(t)
	stub.respond(path_menu, stubResponse{status: http.StatusInternalServerError, body: "oops"})
	session, tel := newTestSession(t, stub, CARRIER_SK)

	_, err := session.InitSession(context.Background(), AUTH_TYPE_SMS)
	var transportErr *outcome.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, STAGE_MENU, transportErr.Stage)
	require.True(t, outcome.IsFatal(err))
	require.Equal(t, STATE_UNINITIALIZED, session.State())
	require.Equal(t, 0, stub.hits(path_method))
	require.NotEmpty(t, tel.Reports(telemetry.LEVEL_BROKEN))

	// the session is gone, even for operations that would not touch the network
	hits := stub.totalHits()
	_, err = session.InitSession(context.Background(), AUTH_TYPE_SMS)
	require.ErrorIs(t, err, outcome.ErrSessionDiscarded)
	require.ErrorAs(t, err, &transportErr)
	_, err = session.CheckSmsVerification(context.Background(), "123456")
	require.ErrorIs(t, err, outcome.ErrSessionDiscarded)
	require.Equal(t, hits, stub.totalHits())
	require.Error(t, session.Discarded())
}

func TestInitSessionUnreachable(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_SK)
	stub.server.Close()

	_, err := session.InitSession(context.Background(), AUTH_TYPE_SMS)
	var transportErr *outcome.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, STAGE_ENTRY, transportErr.Stage)
}

func TestInitSessionParseFailure(t *testing.T) {
	testCases := []struct {
		name  string
		path  string
		body  string
		stage string
		field string
	}{
		{
			name:  "entry without EncodeData",
			path:  stub_path_entry,
			body:  `<form><input type="hidden" name="m" value="M1"></form>`,
			stage: STAGE_ENTRY,
			field: TOKEN_ENCODE_DATA,
		},
		{
			name:  "callback without SERVICE_INFO",
			path:  path_callback,
			body:  `<script>var OTHER = "x";</script>`,
			stage: STAGE_CALLBACK,
			field: TOKEN_SERVICE_INFO,
		},
		{
			name:  "method with visible certInfoHash",
			path:  path_method,
			body:  `<form><input type="text" name="certInfoHash" value="C1"></form>`,
			stage: STAGE_METHOD,
			field: TOKEN_CERT_INFO_HASH,
		},
		{
			name:  "certification with empty captchaVersion",
			path:  path_certification,
			body:  `<script>const captchaVersion = "";</script>`,
			stage: STAGE_CERTIFICATION,
			field: TOKEN_CAPTCHA_VERSION,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			stub := newStubProvider(t)
			stub.respond(test.path, page(test.body))
			session, _ := newTestSession(t, stub, CARRIER_SK)

			_, err := session.InitSession(context.Background(), AUTH_TYPE_SMS)
			var parseErr *outcome.ParseError
			require.ErrorAs(t, err, &parseErr)
			require.Equal(t, test.stage, parseErr.Stage)
			require.Equal(t, test.field, parseErr.Field)
			require.ErrorIs(t, err, htmlutil.ErrTokenNotFound)

			_, err = session.RetrieveCaptcha(context.Background())
			require.ErrorIs(t, err, outcome.ErrSessionDiscarded)
		})
	}
}

func TestRetrieveCaptcha(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_SK)

	_, err := session.RetrieveCaptcha(context.Background())
	var notInit *outcome.SessionNotInitializedError
	require.ErrorAs(t, err, &notInit)
	require.Equal(t, []string{TOKEN_CAPTCHA_VERSION}, notInit.Missing)
	require.Equal(t, 0, stub.totalHits())

	initSession(t, session)
	res, err := session.RetrieveCaptcha(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, []byte("\x89PNG-captcha"), res.Data)
	require.Equal(t, 1, stub.hits(path_captcha_image+"V1"))
	require.Equal(t, STATE_INITIALIZED, session.State())
}

func TestSendSmsVerification(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_SK)
	initSession(t, session)

	res, err := session.SendSmsVerification(context.Background(), testIdentity, "482913")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, STATE_SMS_SENT, session.State())

	req := stub.last(path_sms_certification)
	require.Equal(t, "S1", req.header.Get("x-service-info"))
	require.Equal(t, "XMLHTTPRequest", req.header.Get("X-Requested-With"))
	require.Equal(t, "%ED%99%8D%EA%B8%B8%EB%8F%99", req.form.Get("userNameEncoding"))
	require.Equal(t, "홍길동", req.form.Get("userName"))
	require.Equal(t, "990101", req.form.Get("myNum1"))
	require.Equal(t, "1", req.form.Get("myNum2"))
	require.Equal(t, "01012345678", req.form.Get("mobileNo"))
	require.Equal(t, "482913", req.form.Get("captchaAnswer"))

	// the confirm page reissues SERVICE_INFO
	require.Equal(t, 1, stub.hits(path_sms_confirm))
	require.Equal(t, "S2", session.Tokens().ServiceInfo)
}

func TestSendSmsVerificationKeepsServiceInfo(t *testing.T) {
	stub := newStubProvider(t)
	stub.respond(path_sms_confirm, page(`<html><body>enter the code</body></html>`))
	session, tel := newTestSession(t, stub, CARRIER_SK)
	initSession(t, session)
	sendSms(t, session)

	require.Equal(t, "S1", session.Tokens().ServiceInfo)
	require.NotEmpty(t, tel.Reports(telemetry.LEVEL_WARNING))
}

func TestSendSmsVerificationRejected(t *testing.T) {
	testCases := []struct {
		body    string
		message string
	}{
		{body: `{"code":"FAIL","message":"name does not match"}`, message: "name does not match"},
		{body: `{"code":"CAPTCHA_FAIL"}`, message: msg_send_rejected},
	}

	for _, test := range testCases {
		stub := newStubProvider(t)
		stub.respond(path_sms_certification, jsonBody(test.body))
		session, _ := newTestSession(t, stub, CARRIER_SK)
		initSession(t, session)

		res, err := session.SendSmsVerification(context.Background(), testIdentity, "123456")
		require.NoError(t, err)
		require.False(t, res.Success)
		require.Equal(t, outcome.REASON_REJECTED, res.Reason)
		require.True(t, res.Retryable())
		require.Equal(t, test.message, res.Message)
		require.Equal(t, STATE_INITIALIZED, session.State())
		require.Equal(t, 0, stub.hits(path_sms_confirm))
		require.NoError(t, session.Discarded())
	}
}

func TestSendSmsVerificationBeforeInit(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_SK)

	_, err := session.SendSmsVerification(context.Background(), testIdentity, "123456")
	var notInit *outcome.SessionNotInitializedError
	require.ErrorAs(t, err, &notInit)
	require.ElementsMatch(t, []string{TOKEN_SERVICE_INFO, TOKEN_CERT_INFO_HASH}, notInit.Missing)
	require.False(t, outcome.IsFatal(err))
	require.Equal(t, 0, stub.totalHits())
}

func TestSendSmsVerificationValidation(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_SK)
	initSession(t, session)
	hits := stub.totalHits()

	with := func(mutate func(*Identity)) Identity {
		identity := testIdentity
		mutate(&identity)
		return identity
	}

	testCases := []struct {
		identity Identity
		captcha  string
		field    string
	}{
		{identity: with(func(i *Identity) { i.Name = "  " }), captcha: "1", field: "name"},
		{identity: with(func(i *Identity) { i.Birthdate = "19990101" }), captcha: "1", field: "birthdate"},
		{identity: with(func(i *Identity) { i.Birthdate = "99O101" }), captcha: "1", field: "birthdate"},
		{identity: with(func(i *Identity) { i.Gender = "9" }), captcha: "1", field: "gender"},
		{identity: with(func(i *Identity) { i.Gender = "" }), captcha: "1", field: "gender"},
		{identity: with(func(i *Identity) { i.Phone = "010-1234-5678" }), captcha: "1", field: "phone"},
		{identity: with(func(i *Identity) { i.Phone = "0101234" }), captcha: "1", field: "phone"},
		{identity: testIdentity, captcha: "", field: "captcha_answer"},
		{identity: testIdentity, captcha: "12a4", field: "captcha_answer"},
	}

	for _, test := range testCases {
		_, err := session.SendSmsVerification(context.Background(), test.identity, test.captcha)
		var validation *outcome.ValidationError
		require.ErrorAs(t, err, &validation)
		require.Equal(t, test.field, validation.Field)
	}

	require.Equal(t, hits, stub.totalHits())
	require.Equal(t, STATE_INITIALIZED, session.State())
	require.NoError(t, session.Discarded())
}

func TestSendSmsVerificationUndecodable(t *testing.T) {
	stub := newStubProvider(t)
	stub.respond(path_sms_certification, page(`<html>maintenance</html>`))
	session, _ := newTestSession(t, stub, CARRIER_SK)
	initSession(t, session)

	_, err := session.SendSmsVerification(context.Background(), testIdentity, "123456")
	var parseErr *outcome.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "code", parseErr.Field)
	require.Equal(t, STAGE_SMS_CERTIFICATION, parseErr.Stage)

	stub = newStubProvider(t)
	stub.respond(path_sms_certification, stubResponse{status: http.StatusBadGateway, body: "bad gateway"})
	session, _ = newTestSession(t, stub, CARRIER_SK)
	initSession(t, session)

	_, err = session.SendSmsVerification(context.Background(), testIdentity, "123456")
	var transportErr *outcome.TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestCheckSmsVerificationNotSent(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_SK)

	for _, code := range []string{"123456", "abc"} {
		res, err := session.CheckSmsVerification(context.Background(), code)
		require.NoError(t, err)
		require.False(t, res.Success)
		require.Equal(t, outcome.REASON_NOT_SENT, res.Reason)
		require.Equal(t, STATE_UNINITIALIZED, session.State())
	}

	initSession(t, session)
	before := session.Tokens()
	res, err := session.CheckSmsVerification(context.Background(), "123456")
	require.NoError(t, err)
	require.Equal(t, outcome.REASON_NOT_SENT, res.Reason)
	require.Equal(t, STATE_INITIALIZED, session.State())
	require.Equal(t, before, session.Tokens())
	require.Equal(t, 0, stub.hits(path_sms_confirm_proc))
}

func TestCheckSmsVerificationInvalidCode(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_SK)
	initSession(t, session)
	sendSms(t, session)

	for _, code := range []string{"", "12345", "1234567", "12345a", " 12345", "１２３４５６"} {
		_, err := session.CheckSmsVerification(context.Background(), code)
		var validation *outcome.ValidationError
		require.ErrorAs(t, err, &validation, code)
		require.Equal(t, "code", validation.Field)
	}

	require.Equal(t, 0, stub.hits(path_sms_confirm_proc))
	require.Equal(t, STATE_SMS_SENT, session.State())
}

func TestCheckSmsVerificationRetryThenConfirm(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_SK)
	initSession(t, session)
	sendSms(t, session)

	stub.respond(path_sms_confirm_proc, jsonBody(`{"code":"RETRY"}`))
	res, err := session.CheckSmsVerification(context.Background(), "123456")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, outcome.REASON_RETRY, res.Reason)
	require.True(t, res.Retryable())
	require.Equal(t, STATE_SMS_SENT, session.State())

	req := stub.last(path_sms_confirm_proc)
	require.Equal(t, "123456", req.form.Get("certCode"))
	require.Equal(t, "S2", req.header.Get("x-service-info"))
	require.Equal(t, "XMLHTTPRequest", req.header.Get("X-Requested-With"))

	stub.respond(path_sms_confirm_proc, jsonBody(`{"code":"SUCCESS"}`))
	res, err = session.CheckSmsVerification(context.Background(), "654321")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, STATE_CONFIRMED, session.State())

	hits := stub.totalHits()
	sendRes, err := session.SendSmsVerification(context.Background(), testIdentity, "123456")
	require.NoError(t, err)
	require.False(t, sendRes.Success)
	require.Equal(t, outcome.REASON_ALREADY_CONFIRMED, sendRes.Reason)

	res, err = session.CheckSmsVerification(context.Background(), "654321")
	require.NoError(t, err)
	require.Equal(t, outcome.REASON_ALREADY_CONFIRMED, res.Reason)
	require.Equal(t, hits, stub.totalHits())
	require.Equal(t, STATE_CONFIRMED, session.State())
}

func TestCheckSmsVerificationTerminal(t *testing.T) {
	stub := newStubProvider(t)
	stub.respond(path_sms_confirm_proc, jsonBody(`{"code":"EXPIRED","message":"the code has expired"}`))
	session, _ := newTestSession(t, stub, CARRIER_SK)
	initSession(t, session)
	sendSms(t, session)

	res, err := session.CheckSmsVerification(context.Background(), "123456")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, outcome.REASON_TERMINAL, res.Reason)
	require.False(t, res.Retryable())
	require.Equal(t, "the code has expired", res.Message)
}

func TestResendSms(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_SK)
	initSession(t, session)
	sendSms(t, session)
	sendSms(t, session)

	require.Equal(t, 2, stub.hits(path_sms_certification))
	require.Equal(t, STATE_SMS_SENT, session.State())
}

type recordingListener struct {
	lock   sync.Mutex
	events []AttemptEvent
}

func (l *recordingListener) OnAttempt(_ context.Context, event AttemptEvent) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.events = append(l.events, event)
}

type countingObserver struct {
	lock  sync.Mutex
	paths []string
}

func (o *countingObserver) Observe(_ context.Context, res *resty.Response) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.paths = append(o.paths, res.RawResponse.Request.URL.Path)
}

func TestListenerAndObserver(t *testing.T) {
	stub := newStubProvider(t)
	listener := &recordingListener{}
	observer := &countingObserver{}
	session, _ := newTestSession(t, stub, CARRIER_KM, func(o *Options) {
		o.Listener = listener
		o.Observer = observer
	})

	initSession(t, session)
	_, err := session.CheckSmsVerification(context.Background(), "123456")
	require.NoError(t, err)
	_, err = session.CheckSmsVerification(context.Background(), "1")
	require.NoError(t, err)

	expected := []AttemptEvent{
		{
			SessionId: session.Id,
			Carrier:   CARRIER_KM,
			Operation: OPERATION_INIT_SESSION,
			State:     STATE_INITIALIZED,
			Success:   true,
			Message:   msg_init_ok,
			Time:      testTime,
		},
		{
			SessionId: session.Id,
			Carrier:   CARRIER_KM,
			Operation: OPERATION_CHECK_SMS,
			State:     STATE_INITIALIZED,
			Reason:    outcome.REASON_NOT_SENT,
			Message:   msg_not_sent,
			Time:      testTime,
		},
		{
			SessionId: session.Id,
			Carrier:   CARRIER_KM,
			Operation: OPERATION_CHECK_SMS,
			State:     STATE_INITIALIZED,
			Reason:    outcome.REASON_NOT_SENT,
			Message:   msg_not_sent,
			Time:      testTime,
		},
	}
	diff := cmp.Diff(expected, listener.events)
	if diff != "" {
		t.Fatal(diff)
	}

	require.Equal(t, []string{
		stub_path_entry,
		path_callback,
		path_menu,
		path_method,
		path_certification,
	}, observer.paths)
}

func TestListenerSeesErrors(t *testing.T) {
	stub := newStubProvider(t)
	stub.respond(path_callback, page(`<html></html>`))
	listener := &recordingListener{}
	session, _ := newTestSession(t, stub, CARRIER_SK, func(o *Options) {
		o.Listener = listener
	})

	_, err := session.InitSession(context.Background(), AUTH_TYPE_SMS)
	require.Error(t, err)
	require.Len(t, listener.events, 1)
	require.False(t, listener.events[0].Success)
	require.True(t, errors.Is(listener.events[0].Err, htmlutil.ErrTokenNotFound))
}

func TestNewSession(t *testing.T) {
	_, err := New(Carrier("XX"), Options{})
	var validation *outcome.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "carrier", validation.Field)

	_, err = New(CARRIER_SK, Options{Proxy: "::not a url"})
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "proxy", validation.Field)

	_, err = New(CARRIER_SK, Options{Endpoints: Endpoints{Provider: "/relative"}})
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "endpoints", validation.Field)

	session, err := New(CARRIER_SK, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, DefaultEndpoints(), session.endpoints)
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
}

func TestSharedTransport(t *testing.T) {
	stub := newStubProvider(t)
	transport := &http.Transport{}
	defer transport.CloseIdleConnections()

	first, _ := newTestSession(t, stub, CARRIER_SK, func(o *Options) {
		o.Transport = transport
	})
	second, _ := newTestSession(t, stub, CARRIER_KT, func(o *Options) {
		o.Transport = transport
	})

	initSession(t, first)
	require.NoError(t, first.Close())
	initSession(t, second)
	require.Equal(t, STATE_INITIALIZED, first.State())
	require.Equal(t, STATE_INITIALIZED, second.State())
	require.Equal(t, 2, stub.hits(path_certification))
}

func TestInitSessionTimeout(t *testing.T) {
	stub := newStubProvider(t)
	slow := page(`<html><body>menu</body></html>`)
	slow.delay = 5 * time.Second
	stub.respond(path_menu, slow)
	session, _ := newTestSession(t, stub, CARRIER_LG, func(o *Options) {
		o.Timeout = 200 * time.Millisecond
	})

	start := time.Now()
	_, err := session.InitSession(context.Background(), AUTH_TYPE_SMS)
	require.Less(t, time.Since(start), 4*time.Second)

	var transportErr *outcome.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, STAGE_MENU, transportErr.Stage)
	require.ErrorIs(t, session.Discarded(), err)
	// a timed out hop is never sent twice
	require.Equal(t, 1, stub.hits(path_menu))
	require.Equal(t, 0, stub.hits(path_method))
}

type panickingObserver struct{}

func (panickingObserver) Observe(context.Context, *resty.Response) {
	panic("observer bug")
}

func TestObserverPanicDoesNotBreakSession(t *testing.T) {
	stub := newStubProvider(t)
	session, tel := newTestSession(t, stub, CARRIER_SK, func(o *Options) {
		o.Observer = panickingObserver{}
	})

	initSession(t, session)
	sendSms(t, session)
	require.Equal(t, STATE_SMS_SENT, session.State())

	broken := tel.Reports(telemetry.LEVEL_BROKEN)
	require.NotEmpty(t, broken)
	require.Contains(t, broken[0].Id, report_session_observer)
}

func TestDumpObserverAttached(t *testing.T) {
	stub := newStubProvider(t)
	dir := t.TempDir()
	dump, err := mirror.NewDumpObserver(dir, chrono.FixedImpl{Time: testTime}, &telemetry.MemoryAPI{})
	require.NoError(t, err)
	session, tel := newTestSession(t, stub, CARRIER_SK, func(o *Options) {
		o.Observer = dump
	})

	initSession(t, session)
	require.Empty(t, tel.Reports(telemetry.LEVEL_BROKEN))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, stub.totalHits())

	entry, err := os.ReadFile(filepath.Join(dir, "20240301-093000-001-get.txt"))
	require.NoError(t, err)
	require.Contains(t, string(entry), "GET "+stub.endpoints().Entry)
	require.Contains(t, string(entry), `name="EncodeData"`)

	callback, err := os.ReadFile(filepath.Join(dir, "20240301-093000-002-post.txt"))
	require.NoError(t, err)
	require.Contains(t, string(callback), "EncodeData=E1")
}

func TestInitSessionAuthType(t *testing.T) {
	stub := newStubProvider(t)
	session, _ := newTestSession(t, stub, CARRIER_SK)

	for _, authType := range []AuthType{"", "PASS_APP", "sms"} {
		_, err := session.InitSession(context.Background(), authType)
		var validationErr *outcome.ValidationError
		require.ErrorAs(t, err, &validationErr)
		require.Equal(t, "auth_type", validationErr.Field)
	}
	require.Equal(t, 0, stub.totalHits())
	require.Equal(t, STATE_UNINITIALIZED, session.State())
	require.NoError(t, session.Discarded())

	initSession(t, session)
}
