package checkplus

import (
	"bytes"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"passnice/internal/components/chrono"
	"passnice/internal/components/telemetry"
)

type stubResponse struct {
	status      int
	contentType string
	body        string
	// held back this long, or until the client gives up
	delay time.Duration
}

func page(body string) stubResponse {
	return stubResponse{status: http.StatusOK, contentType: "text/html; charset=utf-8", body: body}
}

func jsonBody(body string) stubResponse {
	return stubResponse{status: http.StatusOK, contentType: "application/json", body: body}
}

type stubRequest struct {
	form    url.Values
	header  http.Header
	cookies []*http.Cookie
}

// stubProvider plays every upstream of the flow on one httptest server and
// remembers what it was sent.
type stubProvider struct {
	server *httptest.Server

	lock      sync.Mutex
	responses map[string]stubResponse
	requests  map[string][]stubRequest
}

const (
	stub_path_entry      = "/recruit/checkplus_main_company.jsp"
	stub_path_tracer_api = "/TRACERAPI/inputQueue.do"
)

func newStubProvider(t *testing.T) *stubProvider {
	stub := &stubProvider{
		requests: map[string][]stubRequest{},
		responses: map[string]stubResponse{
			stub_path_entry:           page(`<html><body><form>
				<input type="hidden" name="m" value="M1">
				<input type="hidden" name="EncodeData" value="E1">
			</form></body></html>`),
			path_callback:             page(`<html><script>const SERVICE_INFO = "S1";</script></html>`),
			path_tracer:               page(`<html><script>callTracerApiInput( "tracer", "10.0.0.1", "mobile");</script></html>`),
			path_menu:                 page(`<html><body>menu</body></html>`),
			stub_path_tracer_api:      page(`ok`),
			path_method:               page(`<html><form><input type="hidden" name="certInfoHash" value="C1"></form></html>`),
			path_certification:        page(`<html><script>const captchaVersion = "V1";</script></html>`),
			path_captcha_image + "V1": {status: http.StatusOK, contentType: "image/png", body: "\x89PNG-captcha"},
			path_sms_certification:    jsonBody(`{"code":"SUCCESS"}`),
			path_sms_confirm:          page(`<html><script>const SERVICE_INFO = "S2";</script></html>`),
			path_sms_confirm_proc:     jsonBody(`{"code":"SUCCESS"}`),
		},
	}

	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		stub.lock.Lock()
		stub.requests[r.URL.Path] = append(stub.requests[r.URL.Path], stubRequest{
			form:    r.PostForm,
			header:  r.Header.Clone(),
			cookies: r.Cookies(),
		})
		res, ok := stub.responses[r.URL.Path]
		stub.lock.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if res.delay > 0 {
			select {
			case <-time.After(res.delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("content-type", res.contentType)
		w.WriteHeader(res.status)
		_, _ = w.Write([]byte(res.body))
	}))
	t.Cleanup(stub.server.Close)

	return stub
}

func (p *stubProvider) respond(path string, res stubResponse) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.responses[path] = res
}

func (p *stubProvider) hits(path string) int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.requests[path])
}

func (p *stubProvider) totalHits() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	total := 0
	for _, reqs := range p.requests {
		total += len(reqs)
	}
	return total
}

func (p *stubProvider) last(path string) stubRequest {
	p.lock.Lock()
	defer p.lock.Unlock()
	reqs := p.requests[path]
	if len(reqs) == 0 {
		return stubRequest{}
	}
	return reqs[len(reqs)-1]
}

func (p *stubProvider) endpoints() Endpoints {
	return Endpoints{
		Entry:     p.server.URL + stub_path_entry,
		Provider:  p.server.URL,
		TracerApi: p.server.URL + stub_path_tracer_api,
	}
}

// fixed so every test sees the same wcCookie.
func testCookieGenerator() CookieGenerator {
	return NewCookieGenerator(
		bytes.NewReader(bytes.Repeat([]byte{0}, 64)),
		rand.New(rand.NewSource(1)),
	)
}

var testTime = time.Date(2024, time.March, 1, 9, 30, 0, 0, time.UTC)

func newTestSession(t *testing.T, stub *stubProvider, carrier Carrier, mutate ...func(*Options)) (*Session, *telemetry.MemoryAPI) {
	tel := &telemetry.MemoryAPI{}
	opts := Options{
		Endpoints: stub.endpoints(),
		Cookie:    testCookieGenerator(),
		Telemetry: tel,
		Time:      chrono.FixedImpl{Time: testTime},
	}
	for _, m := range mutate {
		m(&opts)
	}

	session, err := New(carrier, opts)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() {
		session.Close()
	})
	return session, tel
}
