package checkplus

import (
	"context"
	"fmt"
	"net/http"

	"passnice/internal/outcome"
	"passnice/pkg/htmlutil"
)

// tracerTokens is what the provider's tracer api needs to correlate this
// session with the carrier page visit.
type tracerTokens struct {
	ip       string
	wcCookie string
}

// postTracer loads the tracer page, which renders the client ip the provider
// saw into a `callTracerApiInput(...)` call.
func (s *Session) postTracer(ctx context.Context, in serviceTokens) (string, error) {
	doc, err := s.sendPage(ctx, STAGE_TRACER, http.MethodPost, s.endpoints.provider(path_tracer), map[string]string{
		"accTkInfo": in.serviceInfo,
	})
	if err != nil {
		return "", err
	}
	ip, err := htmlutil.FindSubmatchInDocument(doc, tracerIpRegex)
	if err != nil {
		return "", &outcome.ParseError{Stage: STAGE_TRACER, Field: TOKEN_TRACER_IP, Err: err}
	}
	return ip, nil
}

// reportTracer queues the carrier page visit on the tracer api. The body of
// the answer is never looked at.
func (s *Session) reportTracer(ctx context.Context, in tracerTokens) error {
	res, err := s.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"host":      s.Carrier.ISPHost(),
			"ip":        in.ip,
			"loginId":   in.wcCookie,
			"port":      "80",
			"pageUrl":   "mobile_cert_telecom",
			"userAgent": "",
		}).
		Post(s.endpoints.TracerApi)
	if err != nil {
		return &outcome.TransportError{Stage: STAGE_TRACER_REPORT, Err: err}
	}
	if !res.IsSuccess() {
		s.tel.ReportWarning(
			report_session_tracer,
			fmt.Errorf("tracer api answered %s", res.Status()),
		)
	}
	return nil
}
