package binding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieScope(t *testing.T) {
	cases := []struct {
		host   string
		want   string
		wantOK bool
	}{
		{"www.host1.example.com", ".example.com", true},
		{"host1.example.com", ".example.com", true},
		{"example.com", ".example.com", true},
		{"127.0.0.1", "127.0.0.1", true},
		{"::1", "::1", true},
		{"2001:db8::1", "2001:db8::1", true},
		// known simplification, no public suffix lookup
		{"shop.example.co.uk", ".co.uk", true},
		{"localhost", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.host, func(t *testing.T) {
			got, ok := CookieScope(tc.host)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseTransport(t *testing.T) {
	for in, want := range map[string]Transport{
		"header":          Header,
		"Header":          Header,
		"cookie":          Cookie,
		"CookieAsQuery":   CookieAsQuery,
		"cookie-as-query": CookieAsQuery,
	} {
		got, err := ParseTransport(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseTransport("query")
	assert.Error(t, err)
}

func TestUsesCookie(t *testing.T) {
	assert.False(t, Header.UsesCookie())
	assert.True(t, Cookie.UsesCookie())
	assert.True(t, CookieAsQuery.UsesCookie())
}
