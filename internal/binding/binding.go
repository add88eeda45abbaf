package binding

import (
	"fmt"
	"net"
	"strings"
)

// Transport selects how a token travels with outbound requests.
type Transport string

const (
	Header Transport = "header"
	Cookie Transport = "cookie"
	// CookieAsQuery sends the first token as a query parameter and expects the
	// origin to move it into a cookie. Needed for players that cannot set headers.
	CookieAsQuery Transport = "cookie-as-query"
)

// ParseTransport accepts the kebab form as well as the CamelCase names used by
// older tooling (Header, Cookie, CookieAsQuery).
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case "header":
		return Header, nil
	case "cookie":
		return Cookie, nil
	case "cookieasquery":
		return CookieAsQuery, nil
	}
	return "", fmt.Errorf("unknown token transport: %q", s)
}

// UsesCookie reports whether the token ends up in the client's cookie jar.
func (t Transport) UsesCookie() bool {
	return t == Cookie || t == CookieAsQuery
}

func (t Transport) String() string { return string(t) }

// Set and Type let Transport act as a command-line flag value.
func (t *Transport) Set(s string) error {
	parsed, err := ParseTransport(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t *Transport) Type() string { return "transport" }

// UnmarshalText lets yaml and env decoding go through ParseTransport.
func (t *Transport) UnmarshalText(b []byte) error {
	return t.Set(string(b))
}

// CookieScope derives the Domain attribute for a token cookie.
//
// Literal IP hosts are returned unchanged. Otherwise the last two labels are
// used with a leading dot (www.host1.example.com -> .example.com). No public
// suffix list is consulted, so example.co.uk resolves to .co.uk. Single-label
// hosts such as localhost have no scope.
func CookieScope(host string) (string, bool) {
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return host, true
	}
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return "", false
	}
	return "." + parts[len(parts)-2] + "." + parts[len(parts)-1], true
}
