package checkplus

import (
	"fmt"
	"strings"

	"passnice/internal/outcome"
)

// Carrier is the mobile carrier code the provider expects in `selectMobileCo`.
type Carrier string

const (
	CARRIER_SK Carrier = "SK"
	CARRIER_KT Carrier = "KT"
	CARRIER_LG Carrier = "LG"
	// MVNO variants ride on the network of their parent carrier.
	CARRIER_SM Carrier = "SM"
	CARRIER_KM Carrier = "KM"
	CARRIER_LM Carrier = "LM"
)

// Carriers lists every supported carrier in the order the provider shows them.
var Carriers = []Carrier{
	CARRIER_SK,
	CARRIER_KT,
	CARRIER_LG,
	CARRIER_SM,
	CARRIER_KM,
	CARRIER_LM,
}

const (
	ISP_SKT = "COMMON_MOBILE_SKT"
	ISP_KT  = "COMMON_MOBILE_KT"
	ISP_LGU = "COMMON_MOBILE_LGU"
)

var ispHosts = map[Carrier]string{
	CARRIER_SK: ISP_SKT,
	CARRIER_SM: ISP_SKT,
	CARRIER_KT: ISP_KT,
	CARRIER_KM: ISP_KT,
	CARRIER_LG: ISP_LGU,
	CARRIER_LM: ISP_LGU,
}

// ParseCarrier validates a carrier code, it is case-insensitive and ignores
// surrounding whitespace.
func ParseCarrier(code string) (Carrier, error) {
	c := Carrier(strings.ToUpper(strings.TrimSpace(code)))
	if !c.Valid() {
		return "", &outcome.ValidationError{
			Field:   "carrier",
			Message: fmt.Sprintf("unsupported carrier %q", code),
		}
	}
	return c, nil
}

func (c Carrier) Valid() bool {
	_, ok := ispHosts[c]
	return ok
}

// ISPHost returns the host identifier the provider's tracer api expects for
// this carrier. Every valid carrier has one.
func (c Carrier) ISPHost() string {
	return ispHosts[c]
}

func (c Carrier) String() string {
	return string(c)
}
