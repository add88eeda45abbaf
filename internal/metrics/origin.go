package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Origin request outcomes.
const (
	ResultServed       = "served"
	ResultUnauthorized = "unauthorized"
	ResultThrottled    = "throttled"
	ResultNotFound     = "not_found"
)

// Origin instruments the local test origin.
type Origin struct {
	requests *prometheus.CounterVec
	renewals *prometheus.CounterVec
	segments prometheus.Gauge
}

func NewOrigin(reg prometheus.Registerer) *Origin {
	o := &Origin{}

	o.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cta_origin_requests_total",
		Help: "Requests handled by the origin by kind and result",
	}, []string{"kind", "result"})
	reg.MustRegister(o.requests)

	o.renewals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cta_origin_renewals_issued_total",
		Help: "Renewed tokens handed out by transport",
	}, []string{"transport"})
	reg.MustRegister(o.renewals)

	o.segments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cta_origin_segments",
		Help: "Segments currently listed in the live playlist",
	})
	reg.MustRegister(o.segments)

	return o
}

func (o *Origin) ObserveRequest(kind, result string) {
	o.requests.WithLabelValues(kind, result).Inc()
}

func (o *Origin) ObserveRenewal(transport string) {
	o.renewals.WithLabelValues(transport).Inc()
}

func (o *Origin) SetSegments(n int) {
	o.segments.Set(float64(n))
}
