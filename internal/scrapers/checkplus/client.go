// Package checkplus drives the NICE checkplus mobile sms verification flow the
// way a browser would: it walks the provider's pages, carries the tokens each
// page hands out into the next request, and classifies what went wrong.
package checkplus

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"passnice/internal/components/assert"
	"passnice/internal/components/chrono"
	"passnice/internal/components/telemetry"
	"passnice/internal/outcome"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	report_session_init        = "session.init"
	report_session_get_captcha = "session.get-captcha"
	report_session_send_sms    = "session.send-sms"
	report_session_check_sms   = "session.check-sms"
	report_session_tracer      = "session.tracer"
	report_session_observer    = "session.observer"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type Options struct {
	Endpoints Endpoints
	// bounds every single request, defaults to 30 seconds
	Timeout time.Duration
	// http(s) or socks5 proxy url for every request of the session
	Proxy string
	// 0 disables pacing
	RequestsPerSecond float64
	// wraps the session-owned transport with a browser-like tls fingerprint
	BrowserFingerprint bool
	// report the session to the provider's tracer api during init, like the
	// provider's own pages do
	ReportTracer bool
	UserAgent    string

	// Transport replaces the session-owned transport. A shared transport is
	// never modified or closed by the session, so Proxy and BrowserFingerprint
	// do not apply to it.
	Transport http.RoundTripper

	Cookie    CookieGenerator
	Observer  Observer
	Listener  Listener
	Telemetry telemetry.API
	Time      chrono.API
}

// DefaultOptions is what the cli uses against the real provider.
func DefaultOptions() Options {
	return Options{
		Endpoints:          DefaultEndpoints(),
		Timeout:            30 * time.Second,
		RequestsPerSecond:  2,
		BrowserFingerprint: true,
		UserAgent:          defaultUserAgent,
	}
}

// Session is one verification attempt bound to one carrier. It is safe to use
// from several goroutines, but operations are serialized.
type Session struct {
	Id      string
	Carrier Carrier

	opts          Options
	endpoints     Endpoints
	http          *resty.Client
	tel           telemetry.API
	time          chrono.API
	ownsTransport bool

	lock   sync.Mutex
	state  State
	tokens TokenSet
	// the fatal error that discarded this session
	broken error

	closeOnce sync.Once
}

func New(carrier Carrier, opts Options) (*Session, error) {
	if !carrier.Valid() {
		return nil, &outcome.ValidationError{
			Field:   "carrier",
			Message: fmt.Sprintf("unsupported carrier %q", string(carrier)),
		}
	}

	opts.Endpoints = opts.Endpoints.withDefaults()
	err := opts.Endpoints.validate()
	if err != nil {
		return nil, &outcome.ValidationError{Field: "endpoints", Message: err.Error()}
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Cookie == nil {
		opts.Cookie = DefaultCookieGenerator()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.SlogAPI{}
	}
	if opts.Time == nil {
		standard, err := chrono.NewStandardImpl()
		if err != nil {
			return nil, err
		}
		opts.Time = standard
	}
	assert.Positive(opts.Timeout)
	if opts.RequestsPerSecond < 0 {
		return nil, &outcome.ValidationError{
			Field:   "requests_per_second",
			Message: "must not be negative",
		}
	}

	id := uuid.NewString()
	tel := telemetry.NewScopedAPI(fmt.Sprintf("checkplus %s", id[:8]), opts.Telemetry)

	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)

	ownsTransport := opts.Transport == nil
	if ownsTransport {
		if opts.Proxy != "" {
			parsed, err := url.Parse(opts.Proxy)
			if err != nil || parsed.Host == "" {
				return nil, &outcome.ValidationError{
					Field:   "proxy",
					Message: fmt.Sprintf("%q is not a proxy url", opts.Proxy),
				}
			}
			// must happen before the transport gets wrapped, resty can only
			// set a proxy on a bare *http.Transport
			httpClient.SetProxy(opts.Proxy)
		}
		if opts.BrowserFingerprint {
			httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
		}
	} else {
		if opts.Proxy != "" {
			tel.ReportWarning(report_session_init, "proxy ignored on a shared transport")
		}
		httpClient.SetTransport(opts.Transport)
	}

	httpClient.SetHeader("user-agent", opts.UserAgent)
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetRetryCount(0)

	telemetry.InstrumentResty(httpClient, tel)

	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	if opts.Observer != nil {
		observer := opts.Observer
		httpClient.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
			observe(tel, observer, res)
			return nil
		})
	}

	return &Session{
		Id:            id,
		Carrier:       carrier,
		opts:          opts,
		endpoints:     opts.Endpoints,
		http:          httpClient,
		tel:           tel,
		time:          opts.Time,
		ownsTransport: ownsTransport,
	}, nil
}

// observe hands res to the observer, a panicking observer is reported and
// never reaches the session.
func observe(tel telemetry.API, observer Observer, res *resty.Response) {
	defer func() {
		if r := recover(); r != nil {
			tel.ReportBroken(report_session_observer, fmt.Errorf("observer panicked: %v", r), res.Request.URL)
		}
	}()
	observer.Observe(res.Request.Context(), res)
}

// State returns the current state of the session.
func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Tokens returns a copy of the tokens extracted so far.
func (s *Session) Tokens() TokenSet {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.tokens
}

// Discarded returns the error that discarded the session, nil while it is
// still usable.
func (s *Session) Discarded() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.broken
}

// Close releases the idle connections of a session-owned transport. It is safe
// to call more than once and does not wait for a running operation.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if !s.ownsTransport {
			return
		}
		s.http.GetClient().CloseIdleConnections()
		s.tel.ReportDebug("closed idle connections")
	})
	return nil
}

// discard marks the session unusable if err is fatal.
func (s *Session) discard(err error) error {
	if outcome.IsFatal(err) && s.broken == nil {
		s.broken = err
	}
	return err
}

func (s *Session) notify(ctx context.Context, operation string, success bool, reason outcome.Reason, message string, err error) {
	if s.opts.Listener == nil {
		return
	}
	s.opts.Listener.OnAttempt(ctx, AttemptEvent{
		SessionId: s.Id,
		Carrier:   s.Carrier,
		Operation: operation,
		State:     s.state,
		Success:   success,
		Reason:    reason,
		Message:   message,
		Err:       err,
		Time:      s.time.Now(),
	})
}
