// Package metrics instruments the forwarding engine with Prometheus
// collectors. It is additive: nothing in pkg/engine depends on whether a
// collector registry is actually scraped.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConnectionResult labels the outcome of a finished connection.
type ConnectionResult string

const (
	ResultRelay              ConnectionResult = "relay"
	ResultRewritten          ConnectionResult = "rewritten"
	ResultForwardUnreachable ConnectionResult = "forward_unreachable"
	ResultHandshakeError     ConnectionResult = "handshake_error"
	ResultConnectError       ConnectionResult = "connect_error"
)

// Direction labels a byte-copy loop inside the engine.
type Direction string

const (
	DirClientToServer Direction = "client_to_server"
	DirServerToClient Direction = "server_to_client"
	DirClientToAlt    Direction = "client_to_alt"
	DirAltToClient    Direction = "alt_to_client"
)

// Collectors bundles the counters and gauge the engine reports to.
type Collectors struct {
	ConnectionsTotal  *prometheus.CounterVec
	BytesTotal        *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
}

// New registers a fresh set of collectors against reg.
func New(reg *prometheus.Registry) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "socksforward_connections_total",
			Help: "Connections handled, labeled by outcome.",
		}, []string{"result"}),
		BytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "socksforward_bytes_total",
			Help: "Bytes copied by the forwarding engine, labeled by direction.",
		}, []string{"direction"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "socksforward_active_connections",
			Help: "Connections currently being handled.",
		}),
	}
}

// ConnectionDone records the outcome of a finished connection.
func (c *Collectors) ConnectionDone(result ConnectionResult) {
	if c == nil {
		return
	}
	c.ConnectionsTotal.WithLabelValues(string(result)).Inc()
}

// AddBytes records n bytes copied in the given direction.
func (c *Collectors) AddBytes(dir Direction, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.BytesTotal.WithLabelValues(string(dir)).Add(float64(n))
}

// ConnectionStarted marks the start of a connection.
func (c *Collectors) ConnectionStarted() {
	if c == nil {
		return
	}
	c.ActiveConnections.Inc()
}

// ConnectionEnded marks the end of a connection.
func (c *Collectors) ConnectionEnded() {
	if c == nil {
		return
	}
	c.ActiveConnections.Dec()
}

// Serve starts a debug HTTP server exposing reg on addr at /metrics. It
// blocks until the listener fails and is meant to be run in its own
// goroutine.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
