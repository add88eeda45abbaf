package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerCounters(t *testing.T) {
	c := NewCollector()

	c.Poller.ObserveRequest(KindPlaylist, 200, 10*time.Millisecond)
	c.Poller.ObserveRequest(KindSegment, 200, 10*time.Millisecond)
	c.Poller.ObserveRequest(KindSegment, 200, 10*time.Millisecond)
	c.Poller.ObserveRenewal(true)
	c.Poller.ObserveRenewal(false)
	c.Poller.ObserveRenewal(false)
	c.Poller.AddSegmentBytes(15)
	c.Poller.ObserveRun(nil)
	c.Poller.ObserveRun(errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Poller.requests.WithLabelValues(KindPlaylist, "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Poller.requests.WithLabelValues(KindSegment, "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Poller.renewals.WithLabelValues("renewed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Poller.renewals.WithLabelValues("missing")))
	assert.Equal(t, 15.0, testutil.ToFloat64(c.Poller.segmentBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Poller.runs.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Poller.runs.WithLabelValues("error")))
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector()
	c.Origin.ObserveRequest(KindSegment, ResultServed)
	c.Origin.ObserveRenewal("header")
	c.Origin.SetSegments(6)

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, `cta_origin_requests_total{kind="segment",result="served"} 1`))
	assert.True(t, strings.Contains(body, `cta_origin_renewals_issued_total{transport="header"} 1`))
	assert.True(t, strings.Contains(body, "cta_origin_segments 6"))
}

func TestCollectorsAreIndependent(t *testing.T) {
	// two collectors in one process must not panic on duplicate registration
	a := NewCollector()
	b := NewCollector()
	a.Poller.ObserveRenewal(true)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Poller.renewals.WithLabelValues("renewed")))
}
