package checkplus

// names of the tokens as they appear in the provider's markup.
const (
	TOKEN_M               = "m"
	TOKEN_ENCODE_DATA     = "EncodeData"
	TOKEN_SERVICE_INFO    = "SERVICE_INFO"
	TOKEN_CERT_INFO_HASH  = "certInfoHash"
	TOKEN_CAPTCHA_VERSION = "captchaVersion"
	TOKEN_WC_COOKIE       = wcCookieName
	TOKEN_TRACER_IP       = "tracerIp"
)

// TokenSet is the opaque state scraped out of the provider's pages. Every
// write bumps Version so callers can tell when a stage refreshed a token.
type TokenSet struct {
	M              string
	EncodeData     string
	ServiceInfo    string
	CertInfoHash   string
	CaptchaVersion string
	WcCookie       string
	// only set when tracer reporting is enabled
	TracerIp string

	Version int
}

// Get looks a token up by its markup name.
func (t TokenSet) Get(name string) (string, bool) {
	var value string
	switch name {
	case TOKEN_M:
		value = t.M
	case TOKEN_ENCODE_DATA:
		value = t.EncodeData
	case TOKEN_SERVICE_INFO:
		value = t.ServiceInfo
	case TOKEN_CERT_INFO_HASH:
		value = t.CertInfoHash
	case TOKEN_CAPTCHA_VERSION:
		value = t.CaptchaVersion
	case TOKEN_WC_COOKIE:
		value = t.WcCookie
	case TOKEN_TRACER_IP:
		value = t.TracerIp
	}
	return value, value != ""
}

func (t *TokenSet) set(name, value string) {
	switch name {
	case TOKEN_M:
		t.M = value
	case TOKEN_ENCODE_DATA:
		t.EncodeData = value
	case TOKEN_SERVICE_INFO:
		t.ServiceInfo = value
	case TOKEN_CERT_INFO_HASH:
		t.CertInfoHash = value
	case TOKEN_CAPTCHA_VERSION:
		t.CaptchaVersion = value
	case TOKEN_WC_COOKIE:
		t.WcCookie = value
	case TOKEN_TRACER_IP:
		t.TracerIp = value
	default:
		panic("unknown token " + name)
	}
	t.Version++
}

func (t TokenSet) missing(names ...string) []string {
	var out []string
	for _, n := range names {
		if _, ok := t.Get(n); !ok {
			out = append(out, n)
		}
	}
	return out
}

// the typed inputs of each stage, a stage can only be called with the
// output of the stage before it.

type entryTokens struct {
	m          string
	encodeData string
}

type serviceTokens struct {
	serviceInfo string
}

type certTokens struct {
	serviceInfo  string
	certInfoHash string
}

type captchaTokens struct {
	captchaVersion string
}

func (t TokenSet) service() serviceTokens {
	return serviceTokens{serviceInfo: t.ServiceInfo}
}

func (t TokenSet) captcha() captchaTokens {
	return captchaTokens{captchaVersion: t.CaptchaVersion}
}
