package checkplus

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoints are the upstream urls of the flow. Only the defaults talk to the
// real provider, tests point all three at a stub server.
type Endpoints struct {
	// the requesting company's page that embeds the checkplus form (`m`, `EncodeData`)
	Entry string `json:"entry"`
	// base url of the checkplus provider
	Provider string `json:"provider"`
	// the provider's tracer api queue
	TracerApi string `json:"tracer_api"`
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Entry:     "https://www.ex.co.kr:8070/recruit/company/nice/checkplus_main_company.jsp",
		Provider:  "https://nice.checkplus.co.kr",
		TracerApi: "https://ifc.niceid.co.kr/TRACERAPI/inputQueue.do",
	}
}

// withDefaults fills every empty url with its default.
func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.Entry == "" {
		e.Entry = d.Entry
	}
	if e.Provider == "" {
		e.Provider = d.Provider
	}
	if e.TracerApi == "" {
		e.TracerApi = d.TracerApi
	}
	e.Provider = strings.TrimRight(e.Provider, "/")
	return e
}

func (e Endpoints) validate() error {
	for name, raw := range map[string]string{
		"entry":      e.Entry,
		"provider":   e.Provider,
		"tracer_api": e.TracerApi,
	} {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("endpoint %s: %w", name, err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("endpoint %s: %q is not an absolute url", name, raw)
		}
	}
	return nil
}

const (
	path_callback          = "/CheckPlusSafeModel/checkplus.cb"
	path_tracer            = "/cert/main/tracer"
	path_menu              = "/cert/main/menu"
	path_method            = "/cert/mobileCert/method"
	path_certification     = "/cert/mobileCert/sms/certification"
	path_captcha_image     = "/cert/captcha/image/"
	path_sms_certification = "/cert/mobileCert/sms/certification/proc"
	path_sms_confirm       = "/cert/mobileCert/sms/confirm"
	path_sms_confirm_proc  = "/cert/mobileCert/sms/confirm/proc"
)

func (e Endpoints) provider(path string) string {
	return e.Provider + path
}

func (e Endpoints) captchaImage(version string) string {
	return e.Provider + path_captcha_image + url.PathEscape(version)
}
