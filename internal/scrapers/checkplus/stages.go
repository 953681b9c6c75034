package checkplus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"passnice/internal/outcome"
	"passnice/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	STAGE_ENTRY             = "entry"
	STAGE_CALLBACK          = "callback"
	STAGE_TRACER            = "tracer"
	STAGE_MENU              = "menu"
	STAGE_TRACER_REPORT     = "tracer_report"
	STAGE_METHOD            = "method"
	STAGE_CERTIFICATION     = "certification"
	STAGE_CAPTCHA           = "captcha"
	STAGE_SMS_CERTIFICATION = "sms_certification"
	STAGE_SMS_CONFIRM       = "sms_confirm"
	STAGE_SMS_CONFIRM_PROC  = "sms_confirm_proc"
)

const (
	CODE_SUCCESS = "SUCCESS"
	CODE_RETRY   = "RETRY"
)

// providerResponse is the json body of the sms endpoints.
type providerResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendPage performs a hop that answers with a page. A non-2xx status means the
// page we expected never arrived.
func (s *Session) sendPage(ctx context.Context, stage, method, target string, form map[string]string) (*goquery.Document, error) {
	req := s.http.R().SetContext(ctx)
	if form != nil {
		req.SetFormData(form)
	}
	res, err := req.Execute(method, target)
	if err != nil {
		return nil, &outcome.TransportError{Stage: stage, Err: err}
	}
	if !res.IsSuccess() {
		return nil, &outcome.TransportError{
			Stage: stage,
			Err:   fmt.Errorf("unexpected status %s", res.Status()),
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, &outcome.ParseError{Stage: stage, Field: "document", Err: err}
	}
	return doc, nil
}

func extractToken(doc *goquery.Document, stage, name string, kind htmlutil.TokenKind) (string, error) {
	value, err := htmlutil.ExtractFromDocument(doc, name, kind)
	if err != nil {
		return "", &outcome.ParseError{Stage: stage, Field: name, Err: err}
	}
	return value, nil
}

// sendJson performs one of the xhr style hops of the sms flow.
func (s *Session) sendJson(ctx context.Context, stage, target string, in serviceTokens, form map[string]string) (providerResponse, error) {
	req := s.http.R().
		SetContext(ctx).
		SetHeader("X-Requested-With", "XMLHTTPRequest").
		SetHeader("x-service-info", in.serviceInfo)
	if form != nil {
		req.SetFormData(form)
	}
	res, err := req.Post(target)
	if err != nil {
		return providerResponse{}, &outcome.TransportError{Stage: stage, Err: err}
	}

	var body providerResponse
	err = json.Unmarshal(res.Body(), &body)
	if err == nil && body.Code == "" {
		err = fmt.Errorf("response has no code")
	}
	if err != nil {
		if !res.IsSuccess() {
			return providerResponse{}, &outcome.TransportError{
				Stage: stage,
				Err:   fmt.Errorf("unexpected status %s", res.Status()),
			}
		}
		return providerResponse{}, &outcome.ParseError{Stage: stage, Field: "code", Err: err}
	}
	return body, nil
}

func (s *Session) fetchEntry(ctx context.Context) (entryTokens, error) {
	doc, err := s.sendPage(ctx, STAGE_ENTRY, http.MethodGet, s.endpoints.Entry, nil)
	if err != nil {
		return entryTokens{}, err
	}
	m, err := extractToken(doc, STAGE_ENTRY, TOKEN_M, htmlutil.TOKEN_HIDDEN_INPUT)
	if err != nil {
		return entryTokens{}, err
	}
	encodeData, err := extractToken(doc, STAGE_ENTRY, TOKEN_ENCODE_DATA, htmlutil.TOKEN_HIDDEN_INPUT)
	if err != nil {
		return entryTokens{}, err
	}
	return entryTokens{m: m, encodeData: encodeData}, nil
}

func (s *Session) postCallback(ctx context.Context, in entryTokens) (serviceTokens, error) {
	doc, err := s.sendPage(ctx, STAGE_CALLBACK, http.MethodPost, s.endpoints.provider(path_callback), map[string]string{
		"m":          in.m,
		"EncodeData": in.encodeData,
	})
	if err != nil {
		return serviceTokens{}, err
	}
	serviceInfo, err := extractToken(doc, STAGE_CALLBACK, TOKEN_SERVICE_INFO, htmlutil.TOKEN_SCRIPT_CONSTANT)
	if err != nil {
		return serviceTokens{}, err
	}
	return serviceTokens{serviceInfo: serviceInfo}, nil
}

func (s *Session) postMenu(ctx context.Context, in serviceTokens) error {
	_, err := s.sendPage(ctx, STAGE_MENU, http.MethodPost, s.endpoints.provider(path_menu), map[string]string{
		"accTkInfo": in.serviceInfo,
	})
	return err
}

func (s *Session) postMethod(ctx context.Context, in serviceTokens) (certTokens, error) {
	doc, err := s.sendPage(ctx, STAGE_METHOD, http.MethodPost, s.endpoints.provider(path_method), map[string]string{
		"accTkInfo":      in.serviceInfo,
		"selectMobileCo": s.Carrier.String(),
		"os":             "Windows",
	})
	if err != nil {
		return certTokens{}, err
	}
	certInfoHash, err := extractToken(doc, STAGE_METHOD, TOKEN_CERT_INFO_HASH, htmlutil.TOKEN_HIDDEN_INPUT)
	if err != nil {
		return certTokens{}, err
	}
	return certTokens{serviceInfo: in.serviceInfo, certInfoHash: certInfoHash}, nil
}

func (s *Session) postCertification(ctx context.Context, in certTokens) (captchaTokens, error) {
	doc, err := s.sendPage(ctx, STAGE_CERTIFICATION, http.MethodPost, s.endpoints.provider(path_certification), map[string]string{
		"certInfoHash":    in.certInfoHash,
		"accTkInfo":       in.serviceInfo,
		"mobileCertAgree": "Y",
	})
	if err != nil {
		return captchaTokens{}, err
	}
	version, err := extractToken(doc, STAGE_CERTIFICATION, TOKEN_CAPTCHA_VERSION, htmlutil.TOKEN_SCRIPT_CONSTANT)
	if err != nil {
		return captchaTokens{}, err
	}
	return captchaTokens{captchaVersion: version}, nil
}

func (s *Session) fetchCaptcha(ctx context.Context, in captchaTokens) ([]byte, error) {
	res, err := s.http.R().
		SetContext(ctx).
		Get(s.endpoints.captchaImage(in.captchaVersion))
	if err != nil {
		return nil, &outcome.TransportError{Stage: STAGE_CAPTCHA, Err: err}
	}
	if !res.IsSuccess() {
		return nil, &outcome.TransportError{
			Stage: STAGE_CAPTCHA,
			Err:   fmt.Errorf("unexpected status %s", res.Status()),
		}
	}
	return res.Body(), nil
}

func (s *Session) postSmsCertification(ctx context.Context, in serviceTokens, identity Identity, captchaAnswer string) (providerResponse, error) {
	return s.sendJson(ctx, STAGE_SMS_CERTIFICATION, s.endpoints.provider(path_sms_certification), in, map[string]string{
		"userNameEncoding": quote(identity.Name),
		"userName":         identity.Name,
		"myNum1":           identity.Birthdate,
		"myNum2":           identity.Gender,
		"mobileNo":         identity.Phone,
		"captchaAnswer":    captchaAnswer,
	})
}

// postSmsConfirm loads the code entry page, which may hand out a new
// SERVICE_INFO. ok is false when the page kept the old one.
func (s *Session) postSmsConfirm(ctx context.Context) (out serviceTokens, ok bool, err error) {
	doc, err := s.sendPage(ctx, STAGE_SMS_CONFIRM, http.MethodPost, s.endpoints.provider(path_sms_confirm), nil)
	if err != nil {
		return serviceTokens{}, false, err
	}
	serviceInfo, err := htmlutil.ExtractFromDocument(doc, TOKEN_SERVICE_INFO, htmlutil.TOKEN_SCRIPT_CONSTANT)
	if err != nil {
		return serviceTokens{}, false, nil
	}
	return serviceTokens{serviceInfo: serviceInfo}, true, nil
}

func (s *Session) postSmsConfirmProc(ctx context.Context, in serviceTokens, code string) (providerResponse, error) {
	return s.sendJson(ctx, STAGE_SMS_CONFIRM_PROC, s.endpoints.provider(path_sms_confirm_proc), in, map[string]string{
		"certCode": code,
	})
}

// quote percent-encodes every byte except unreserved characters and '/', the
// encoding the provider's own page applies to userNameEncoding. Spaces become
// %20, not '+'.
func quote(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			out.WriteByte(c)
			continue
		}
		fmt.Fprintf(&out, "%%%02X", c)
	}
	return out.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~', c == '/':
		return true
	}
	return false
}

var tracerIpRegex = regexp.MustCompile(`callTracerApiInput\(\s*"[^"]*",\s*"(\d{1,3}(?:\.\d{1,3}){3})",`)
