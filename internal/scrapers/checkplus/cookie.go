package checkplus

import (
	"crypto/rand"
	"fmt"
	"io"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

const wcCookieName = "wcCookie"

// CookieGenerator produces the `wcCookie` correlation value,
// formatted as `<uuid-v4>_T_<5 digit number>_WC`.
type CookieGenerator func() (string, error)

// NewCookieGenerator builds a generator over explicit sources so tests can make
// the cookie reproducible. uuidSource feeds uuid.NewRandomFromReader and rnd
// picks the 5 digit suffix.
func NewCookieGenerator(uuidSource io.Reader, rnd *mathrand.Rand) CookieGenerator {
	var lock sync.Mutex
	return func() (string, error) {
		lock.Lock()
		defer lock.Unlock()

		id, err := uuid.NewRandomFromReader(uuidSource)
		if err != nil {
			return "", fmt.Errorf("generate wcCookie uuid: %w", err)
		}
		suffix := 10000 + rnd.Intn(90000)
		return fmt.Sprintf("%s_T_%d_WC", id.String(), suffix), nil
	}
}

// DefaultCookieGenerator uses crypto/rand for the uuid and a time seeded
// source for the suffix.
func DefaultCookieGenerator() CookieGenerator {
	return NewCookieGenerator(
		rand.Reader,
		mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	)
}
