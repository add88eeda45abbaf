package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/cta-poller/internal/binding"
	"github.com/technosupport/cta-poller/internal/cat"
	"github.com/technosupport/cta-poller/internal/metrics"
	"github.com/technosupport/cta-poller/internal/playlist"
	"github.com/technosupport/cta-poller/internal/report"
)

// session is the state of one Run. headers carries the current token for
// header transport and is only touched by the polling loop.
type session struct {
	id         string
	headers    http.Header
	segmentURL string
}

func (s *session) logf(level, format string, v ...any) {
	log.Printf("[%s] [SESSION:%s] "+format, append([]any{level, s.id}, v...)...)
}

// Run fetches the playlist once and the first segment MaxIterations times.
// It stops at the first transport error; there are no retries.
func (w *Worker) Run(ctx context.Context) (err error) {
	s := &session{
		id:      uuid.New().String(),
		headers: http.Header{},
	}
	defer func() {
		w.metrics.ObserveRun(err)
		if err != nil {
			s.logf("ERROR", "Run failed: %v", err)
		}
	}()

	s.headers.Set("User-Agent", w.cfg.UserAgent)
	// An explicit encoding stops net/http from transparently decompressing,
	// which would drop the origin's Content-Length.
	s.headers.Set("Accept-Encoding", "identity")
	if w.cfg.Transport == binding.Header {
		token, err := w.encodedToken()
		if err != nil {
			return err
		}
		s.headers.Set(cat.HeaderName, token)
	}

	s.logf("INFO", "Starting %s session against %s (%d iterations)", w.cfg.Transport, w.cfg.URL, w.cfg.MaxIterations)

	body, status, err := w.fetchPlaylist(ctx, s)
	if err != nil {
		return err
	}

	ref, ok := playlist.FindLineAfter(body, playlist.SegmentMarker)
	if !ok {
		return fmt.Errorf("%w: %s (status %d)", ErrNoSegmentFound, w.cfg.URL, status)
	}
	s.segmentURL = playlist.ResolveSegment(w.cfg.URL, ref)
	s.logf("DEBUG", "Segment URL resolved: %s", s.segmentURL)

	for i := 1; i <= w.cfg.MaxIterations; i++ {
		if err := w.pollSegment(ctx, s, i); err != nil {
			return err
		}
		if i < w.cfg.MaxIterations && w.cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.Delay):
			}
		}
	}

	s.logf("INFO", "Completed %d segment requests", w.cfg.MaxIterations)
	return nil
}

func (w *Worker) get(ctx context.Context, s *session, kind, target string) (*http.Response, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request %s: %v", ErrHTTPTransport, kind, err)
	}
	req.Header = s.headers.Clone()

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: GET %s: %w", ErrHTTPTransport, kind, err)
	}
	elapsed := time.Since(start)
	w.metrics.ObserveRequest(kind, resp.StatusCode, elapsed)
	return resp, elapsed, nil
}

func (w *Worker) fetchPlaylist(ctx context.Context, s *session) (string, int, error) {
	resp, elapsed, err := w.get(ctx, s, metrics.KindPlaylist, w.playlistURL)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("%w: read playlist: %w", ErrHTTPTransport, err)
	}

	s.logf("INFO", "Playlist: %s, %d bytes", resp.Status, len(body))
	w.publish(s, &report.Event{
		Iteration:     0,
		Kind:          metrics.KindPlaylist,
		URL:           w.cfg.URL,
		Status:        resp.StatusCode,
		ContentLength: resp.ContentLength,
		DurationMs:    elapsed.Milliseconds(),
	})
	return string(body), resp.StatusCode, nil
}

func (w *Worker) pollSegment(ctx context.Context, s *session, i int) error {
	resp, elapsed, err := w.get(ctx, s, metrics.KindSegment, s.segmentURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	renewed := false
	if w.cfg.Transport == binding.Header {
		renewed = w.carryRenewal(s, resp)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read segment: %w", ErrHTTPTransport, err)
	}
	w.metrics.AddSegmentBytes(n)

	contentLength := "none"
	if resp.ContentLength >= 0 {
		contentLength = strconv.FormatInt(resp.ContentLength, 10)
	}
	s.logf("INFO", "Req: %d, Response: %s, content-length: %s", i, resp.Status, contentLength)

	w.publish(s, &report.Event{
		Iteration:     i,
		Kind:          metrics.KindSegment,
		URL:           s.segmentURL,
		Status:        resp.StatusCode,
		ContentLength: resp.ContentLength,
		Renewed:       renewed,
		DurationMs:    elapsed.Milliseconds(),
	})

	if resp.ContentLength < 0 && w.cfg.StrictContentLength {
		return fmt.Errorf("%w: request %d to %s", ErrMissingContentLength, i, s.segmentURL)
	}
	return nil
}

// carryRenewal swaps the carried token for the one in the response, if any.
// A missing renewal is expected while the origin is not ready to renew.
func (w *Worker) carryRenewal(s *session, resp *http.Response) bool {
	token := resp.Header.Get(cat.HeaderName)
	w.metrics.ObserveRenewal(token != "")
	if token == "" {
		s.logf("WARN", "No token found in segment response")
		s.logf("DEBUG", "Headers: %v", resp.Header)
		return false
	}
	s.headers.Set(cat.HeaderName, token)
	return true
}

func (w *Worker) publish(s *session, event *report.Event) {
	event.SessionID = s.id
	event.Transport = w.cfg.Transport.String()
	event.OccurredAt = w.now()
	if err := w.reporter.Publish(event); err != nil {
		s.logf("WARN", "Failed to publish poll event: %v", err)
	}
}
