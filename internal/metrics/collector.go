package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several workers or test origins in one
// process never collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	Poller *Poller
	Origin *Origin
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	return &Collector{
		registry: reg,
		Poller:   NewPoller(reg),
		Origin:   NewOrigin(reg),
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
