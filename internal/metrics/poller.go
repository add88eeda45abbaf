package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request kinds used as label values.
const (
	KindPlaylist = "playlist"
	KindSegment  = "segment"
)

// Poller instruments a worker's polling session.
type Poller struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	renewals     *prometheus.CounterVec
	segmentBytes prometheus.Counter
	runs         *prometheus.CounterVec
}

func NewPoller(reg prometheus.Registerer) *Poller {
	p := &Poller{}

	p.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cta_poller_requests_total",
		Help: "Requests issued by the poller by kind and HTTP status code",
	}, []string{"kind", "code"})
	reg.MustRegister(p.requests)

	p.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cta_poller_request_duration_seconds",
		Help:    "Time to response headers for poller requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	reg.MustRegister(p.duration)

	p.renewals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cta_poller_renewals_total",
		Help: "Header-transport segment responses with (renewed) or without (missing) a renewed token",
	}, []string{"outcome"})
	reg.MustRegister(p.renewals)

	p.segmentBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cta_poller_segment_bytes_total",
		Help: "Segment body bytes read",
	})
	reg.MustRegister(p.segmentBytes)

	p.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cta_poller_runs_total",
		Help: "Completed worker runs by result",
	}, []string{"result"})
	reg.MustRegister(p.runs)

	return p
}

func (p *Poller) ObserveRequest(kind string, code int, d time.Duration) {
	p.requests.WithLabelValues(kind, strconv.Itoa(code)).Inc()
	p.duration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *Poller) ObserveRenewal(renewed bool) {
	outcome := "missing"
	if renewed {
		outcome = "renewed"
	}
	p.renewals.WithLabelValues(outcome).Inc()
}

func (p *Poller) AddSegmentBytes(n int64) {
	p.segmentBytes.Add(float64(n))
}

func (p *Poller) ObserveRun(err error) {
	if err != nil {
		p.runs.WithLabelValues("error").Inc()
		return
	}
	p.runs.WithLabelValues("ok").Inc()
}
