package cat

import (
	"github.com/technosupport/cta-poller/internal/binding"
)

// CWT registered claim keys (RFC 8392) and the CAT renewal claim (CTA-5007).
const (
	claimIssuer     = 1
	claimSubject    = 2
	claimExpiration = 4
	claimIssuedAt   = 6
	claimTokenID    = 7
	claimRenewal    = 323
)

// CATR map keys.
const (
	renewalType         = 0
	renewalExpAdd       = 1
	renewalDeadline     = 2
	renewalCookieName   = 3
	renewalHeaderName   = 4
	renewalCookieParams = 5
	renewalHeaderParams = 6
)

// Renewal types understood by CAT-aware origins.
const (
	RenewalCookie = 1
	RenewalHeader = 2
)

// Claims is the CWT payload carried inside the COSE_Mac0 structure.
type Claims struct {
	Issuer     string      `cbor:"1,keyasint"`
	Subject    string      `cbor:"2,keyasint"`
	Expiration int64       `cbor:"4,keyasint"`
	IssuedAt   int64       `cbor:"6,keyasint"`
	TokenID    []byte      `cbor:"7,keyasint"`
	Renewal    map[int]any `cbor:"323,keyasint"`
}

// Renewal builds the CATR extension for a transport. The renewal deadline is
// halfway through ttl, and the name is always HeaderName: for cookie
// transports it is the cookie name, for header transport the header name.
func Renewal(transport binding.Transport, now, ttl uint64, cookieDomain string) map[int]any {
	catr := map[int]any{
		renewalExpAdd:   int64(ttl),
		renewalDeadline: int64(now + ttl/2),
	}

	if transport.UsesCookie() {
		catr[renewalType] = RenewalCookie
		catr[renewalCookieName] = HeaderName
		catr[renewalCookieParams] = []string{
			"Secure",
			"HttpOnly",
			"Domain=" + cookieDomain,
			"path=/",
			"SameSite=None",
		}
		return catr
	}

	catr[renewalType] = RenewalHeader
	catr[renewalHeaderName] = HeaderName
	catr[renewalHeaderParams] = []string{}
	return catr
}
