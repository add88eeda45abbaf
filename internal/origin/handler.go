package origin

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/technosupport/cta-poller/internal/binding"
	"github.com/technosupport/cta-poller/internal/cat"
	"github.com/technosupport/cta-poller/internal/metrics"
	"github.com/technosupport/cta-poller/internal/ratelimit"
)

const (
	DefaultQueryParam     = "CAT"
	DefaultPlaylistWindow = 6
	DefaultTargetDuration = 2
)

var (
	fileRegex     = regexp.MustCompile(`^[a-zA-Z0-9_\-\.=]+\.(m3u8|ts|m4s|mp4)$`)
	sequenceRegex = regexp.MustCompile(`(\d+)\.[a-z0-9]+$`)

	errNoSegments = errors.New("no segments found")
)

type Config struct {
	Store SegmentStore

	// Tokens signs renewals. Nil disables renewal regardless of Renew.
	Tokens *cat.Manager
	TTL    uint64
	Renew  bool

	QueryParam     string
	PlaylistWindow int
	TargetDuration int

	Limiter   *ratelimit.Limiter
	RateLimit ratelimit.LimitConfig

	Metrics *metrics.Origin
}

// Handler is a minimal CAT-gated live HLS origin. It only checks that a token
// is present; signature and claims are never validated.
type Handler struct {
	cfg Config
}

func NewHandler(cfg Config) *Handler {
	if cfg.QueryParam == "" {
		cfg.QueryParam = DefaultQueryParam
	}
	if cfg.PlaylistWindow <= 0 {
		cfg.PlaylistWindow = DefaultPlaylistWindow
	}
	if cfg.TargetDuration <= 0 {
		cfg.TargetDuration = DefaultTargetDuration
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewOrigin(prometheus.NewRegistry())
	}
	return &Handler{cfg: cfg}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/live/{file}", h.ServeLive)
}

func (h *Handler) ServeLive(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	kind := metrics.KindSegment
	if strings.HasSuffix(file, ".m3u8") {
		kind = metrics.KindPlaylist
	}

	if !fileRegex.MatchString(file) {
		http.Error(w, "Invalid request parameters", http.StatusBadRequest)
		return
	}

	if !h.allow(w, r) {
		h.cfg.Metrics.ObserveRequest(kind, metrics.ResultThrottled)
		return
	}

	token, source, ok := requestToken(r, h.cfg.QueryParam)
	if !ok {
		h.cfg.Metrics.ObserveRequest(kind, metrics.ResultUnauthorized)
		http.Error(w, "Unauthorized (Missing Token)", http.StatusUnauthorized)
		return
	}

	if kind == metrics.KindPlaylist {
		h.servePlaylist(w, r, token, source)
		return
	}
	h.serveSegment(w, r, file, source)
}

func (h *Handler) servePlaylist(w http.ResponseWriter, r *http.Request, token string, source binding.Transport) {
	pl, err := h.generatePlaylist()
	if errors.Is(err, errNoSegments) {
		h.cfg.Metrics.ObserveRequest(metrics.KindPlaylist, metrics.ResultNotFound)
		http.Error(w, "No segments available", http.StatusNotFound)
		return
	}

	// Query tokens are moved into a cookie so segment requests, which carry
	// no query, stay authorized.
	if source == binding.CookieAsQuery {
		http.SetCookie(w, &http.Cookie{
			Name:     cat.HeaderName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
		})
	}

	h.cfg.Metrics.ObserveRequest(metrics.KindPlaylist, metrics.ResultServed)
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Write([]byte(pl))
}

func (h *Handler) serveSegment(w http.ResponseWriter, r *http.Request, file string, source binding.Transport) {
	data, err := h.cfg.Store.Open(file)
	if err != nil {
		if !errors.Is(err, ErrSegmentNotFound) {
			log.Printf("[ERROR] Segment read failed for %s: %v", file, err)
		}
		h.cfg.Metrics.ObserveRequest(metrics.KindSegment, metrics.ResultNotFound)
		http.Error(w, "Segment not found", http.StatusNotFound)
		return
	}

	if h.cfg.Renew && h.cfg.Tokens != nil {
		if err := h.renew(w, r, source); err != nil {
			log.Printf("[ERROR] Token renewal failed: %v", err)
		}
	}

	switch {
	case strings.HasSuffix(file, ".ts"):
		w.Header().Set("Content-Type", "video/mp2t")
	case strings.HasSuffix(file, ".mp4"):
		w.Header().Set("Content-Type", "video/mp4")
	case strings.HasSuffix(file, ".m4s"):
		w.Header().Set("Content-Type", "video/iso.segment")
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	h.cfg.Metrics.ObserveRequest(metrics.KindSegment, metrics.ResultServed)
	w.Write(data)
}

// renew hands out a fresh token on the same transport the client used.
func (h *Handler) renew(w http.ResponseWriter, r *http.Request, source binding.Transport) error {
	if source == binding.Header {
		tok, err := h.cfg.Tokens.Generate(h.cfg.TTL, binding.Header, "")
		if err != nil {
			return err
		}
		w.Header().Set(cat.HeaderName, cat.EncodeText(tok))
		h.cfg.Metrics.ObserveRenewal(binding.Header.String())
		return nil
	}

	domain, _ := binding.CookieScope(hostname(r))
	tok, err := h.cfg.Tokens.Generate(h.cfg.TTL, binding.Cookie, domain)
	if err != nil {
		return err
	}
	c := &http.Cookie{
		Name:     cat.HeaderName,
		Value:    cat.EncodeText(tok),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
	}
	// IP hosts get a host-only cookie.
	if domain != "" && net.ParseIP(domain) == nil {
		c.Domain = domain
	}
	http.SetCookie(w, c)
	h.cfg.Metrics.ObserveRenewal(binding.Cookie.String())
	return nil
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.cfg.Limiter == nil || !h.cfg.RateLimit.Enabled() {
		return true
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	key := fmt.Sprintf("ip:%s", h.cfg.Limiter.HashIP(ip))

	decision, err := h.cfg.Limiter.CheckRateLimit(r.Context(), key, h.cfg.RateLimit)
	if err != nil {
		log.Printf("[WARN] RateLimit Redis Error (Fail Open): %v", err)
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (h *Handler) generatePlaylist() (string, error) {
	segments := h.cfg.Store.Segments()
	if len(segments) == 0 {
		return "", errNoSegments
	}

	if len(segments) > h.cfg.PlaylistWindow {
		segments = segments[len(segments)-h.cfg.PlaylistWindow:]
	}

	seq := 0
	if m := sequenceRegex.FindStringSubmatch(segments[0]); m != nil {
		seq, _ = strconv.Atoi(m[1])
	}

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:3\n")
	sb.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", h.cfg.TargetDuration))
	sb.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", seq))

	for _, seg := range segments {
		sb.WriteString(fmt.Sprintf("#EXTINF:%d.000,\n", h.cfg.TargetDuration))
		sb.WriteString(seg + "\n")
	}

	return sb.String(), nil
}

// requestToken finds the CAT on a request. The query parameter wins so a
// client switching to cookie-as-query is not shadowed by a stale cookie.
func requestToken(r *http.Request, queryParam string) (string, binding.Transport, bool) {
	if v := r.URL.Query().Get(queryParam); v != "" {
		return v, binding.CookieAsQuery, true
	}
	if v := r.Header.Get(cat.HeaderName); v != "" {
		return v, binding.Header, true
	}
	if c, err := r.Cookie(cat.HeaderName); err == nil && c.Value != "" {
		return c.Value, binding.Cookie, true
	}
	return "", "", false
}

func hostname(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		return r.Host
	}
	return host
}
