// Package worker runs a single CAT polling session: fetch the playlist with
// a freshly minted token, pick the first segment, then fetch that segment
// repeatedly while carrying any renewed token the origin hands back.
package worker

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/technosupport/cta-poller/internal/binding"
	"github.com/technosupport/cta-poller/internal/cat"
	"github.com/technosupport/cta-poller/internal/metrics"
	"github.com/technosupport/cta-poller/internal/report"
)

const (
	DefaultUserAgent  = "cta-poller"
	DefaultQueryParam = "CAT"

	maxPlaylistBytes = 8 << 20
)

var (
	ErrInvalidConfig        = errors.New("invalid worker config")
	ErrURLParse             = errors.New("could not parse target url")
	ErrNoCookieScope        = errors.New("no cookie domain derivable from host")
	ErrHTTPTransport        = errors.New("http request failed")
	ErrNoSegmentFound       = errors.New("no segment found in playlist")
	ErrMissingContentLength = errors.New("segment response has no content-length")
)

// Config is everything a caller supplies for one session.
type Config struct {
	Key           string // hex encoded HMAC key
	URL           string // media playlist
	TTL           uint64 // seconds; tokens live 2*TTL and renew at TTL/2
	Transport     binding.Transport
	Issuer        string
	MaxIterations int
	Delay         time.Duration

	UserAgent  string
	QueryParam string // cookie-as-query only

	// StrictContentLength fails the run when a segment response has no
	// Content-Length instead of just logging it.
	StrictContentLength bool
	RequestTimeout      time.Duration
}

func (c *Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("%w: max iterations must not be negative", ErrInvalidConfig)
	}
	if c.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative", ErrInvalidConfig)
	}
	switch c.Transport {
	case binding.Header, binding.Cookie, binding.CookieAsQuery:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.QueryParam == "" {
		c.QueryParam = DefaultQueryParam
	}
	return nil
}

// Reporter receives one event per completed request.
type Reporter interface {
	Publish(event *report.Event) error
}

type Option func(*Worker)

// WithHTTPClient uses a copy of c. The copy never shares c's jar; cookie
// transports get a jar of their own.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Worker) {
		cp := *c
		cp.Jar = nil
		w.client = &cp
	}
}

func WithMetrics(p *metrics.Poller) Option {
	return func(w *Worker) { w.metrics = p }
}

func WithReporter(r Reporter) Option {
	return func(w *Worker) { w.reporter = r }
}

// WithClock sets the time source used for token timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// Worker is not safe for concurrent Run calls; run several Workers instead.
type Worker struct {
	cfg          Config
	target       *url.URL
	playlistURL  string
	cookieDomain string

	tokens    *cat.Manager
	tokenOnce sync.Once
	token     string
	tokenErr  error

	client   *http.Client
	metrics  *metrics.Poller
	reporter Reporter
	now      func() time.Time
}

func New(cfg Config, opts ...Option) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrURLParse, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%w: %q has no scheme or host", ErrURLParse, cfg.URL)
	}

	cookieDomain, ok := binding.CookieScope(target.Hostname())
	if !ok && cfg.Transport.UsesCookie() {
		return nil, fmt.Errorf("%w: %q", ErrNoCookieScope, target.Hostname())
	}

	tokens, err := cat.NewManager(cfg.Key, cfg.Issuer)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cfg:          cfg,
		target:       target,
		playlistURL:  cfg.URL,
		cookieDomain: cookieDomain,
		tokens:       tokens,
		client:       &http.Client{Timeout: cfg.RequestTimeout},
		reporter:     report.Discard{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = metrics.NewPoller(prometheus.NewRegistry())
	}
	tokens.WithClock(w.now)

	switch cfg.Transport {
	case binding.Cookie:
		if err := w.preloadCookie(); err != nil {
			return nil, err
		}
	case binding.CookieAsQuery:
		if err := w.attachQueryToken(); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// encodedToken mints the token on first use and returns the same value
// afterwards.
func (w *Worker) encodedToken() (string, error) {
	w.tokenOnce.Do(func() {
		raw, err := w.tokens.Generate(w.cfg.TTL, w.cfg.Transport, w.cookieDomain)
		if err != nil {
			w.tokenErr = err
			return
		}
		w.token = cat.EncodeText(raw)
	})
	return w.token, w.tokenErr
}

func (w *Worker) ensureJar() error {
	if w.client.Jar != nil {
		return nil
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	w.client.Jar = jar
	return nil
}

// preloadCookie stores the token in the jar for scheme://host with the
// derived domain, as a player would after an authorising page set it.
func (w *Worker) preloadCookie() error {
	token, err := w.encodedToken()
	if err != nil {
		return err
	}
	if err := w.ensureJar(); err != nil {
		return err
	}
	origin := &url.URL{Scheme: w.target.Scheme, Host: w.target.Hostname()}
	w.client.Jar.SetCookies(origin, []*http.Cookie{{
		Name:   cat.HeaderName,
		Value:  token,
		Domain: w.cookieDomain,
		Path:   "/",
	}})
	return nil
}

// attachQueryToken puts the token on the playlist URL only. The origin is
// expected to answer with Set-Cookie, which the jar then replays for segments.
func (w *Worker) attachQueryToken() error {
	token, err := w.encodedToken()
	if err != nil {
		return err
	}
	if err := w.ensureJar(); err != nil {
		return err
	}
	u := *w.target
	q := u.Query()
	q.Set(w.cfg.QueryParam, token)
	u.RawQuery = q.Encode()
	w.playlistURL = u.String()
	return nil
}

// CookieDomain is the scope derived from the target host, empty when the
// host has none.
func (w *Worker) CookieDomain() string { return w.cookieDomain }
