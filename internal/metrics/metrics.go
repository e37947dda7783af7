// Package metrics exposes Prometheus counters and gauges for the signaling
// server, grounded on infodancer-pop3d's internal/metrics.PrometheusCollector
// pattern: metric recording lives behind a small domain interface, backed by
// a prometheus.Registerer-based implementation and an HTTP exposition
// server built on promhttp.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commanderxa/nexus/internal/registry"
)

// Collector records server-wide counters. Callers depend on this
// interface, never on *PrometheusCollector directly.
type Collector interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageRelayed()
	CallEventRelayed(index string)
	FileTransferCompleted(bytes int64)
	UDPRelayMiss()
	AuthAttempt(success bool)
}

// PrometheusCollector implements Collector.
type PrometheusCollector struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	messagesTotal     prometheus.Counter
	callEventsTotal   *prometheus.CounterVec
	fileBytesTotal    prometheus.Counter
	filesTotal        prometheus.Counter
	udpMissesTotal    prometheus.Counter
	authAttemptsTotal *prometheus.CounterVec
}

// NewPrometheusCollector registers every metric against reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_connections_total",
			Help: "Total number of TCP signaling connections accepted.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_connections_active",
			Help: "Number of currently open TCP signaling connections.",
		}),
		messagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_messages_relayed_total",
			Help: "Total number of chat messages fanned out.",
		}),
		callEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_call_events_total",
			Help: "Total number of call signaling events relayed, by index.",
		}, []string{"index"}),
		fileBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_file_bytes_total",
			Help: "Total bytes received over file transfers.",
		}),
		filesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_files_total",
			Help: "Total number of completed file transfers.",
		}),
		udpMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_udp_relay_misses_total",
			Help: "Total number of UDP relay frames dropped for an unknown receiver or an unparseable frame.",
		}),
		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_auth_attempts_total",
			Help: "Total number of token validation attempts.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.messagesTotal,
		c.callEventsTotal,
		c.fileBytesTotal,
		c.filesTotal,
		c.udpMissesTotal,
		c.authAttemptsTotal,
	)
	return c
}

func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

func (c *PrometheusCollector) MessageRelayed() {
	c.messagesTotal.Inc()
}

func (c *PrometheusCollector) CallEventRelayed(index string) {
	c.callEventsTotal.WithLabelValues(index).Inc()
}

func (c *PrometheusCollector) FileTransferCompleted(bytes int64) {
	c.filesTotal.Inc()
	c.fileBytesTotal.Add(float64(bytes))
}

func (c *PrometheusCollector) UDPRelayMiss() {
	c.udpMissesTotal.Inc()
}

func (c *PrometheusCollector) AuthAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(result).Inc()
}

// NoopCollector discards every metric. Tests pass it in place of a
// PrometheusCollector.
type NoopCollector struct{}

func (NoopCollector) ConnectionOpened()           {}
func (NoopCollector) ConnectionClosed()           {}
func (NoopCollector) MessageRelayed()             {}
func (NoopCollector) CallEventRelayed(string)     {}
func (NoopCollector) FileTransferCompleted(int64) {}
func (NoopCollector) UDPRelayMiss()               {}
func (NoopCollector) AuthAttempt(bool)            {}

// RegisterRegistryGauges exposes the connection registry's live counts as
// Prometheus gauges, sampled at scrape time rather than incremented on every
// event — registry.ClientCount and registry.UserCount are the natural
// consumers of a gauge, not a counter pair threaded through the session
// loop.
func RegisterRegistryGauges(reg prometheus.Registerer, r *registry.Registry) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "nexus_registry_connections",
		Help: "Live connection count as tracked by the connection registry.",
	}, func() float64 { return float64(r.ClientCount()) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "nexus_registry_users",
		Help: "Live distinct-user count as tracked by the connection registry.",
	}, func() float64 { return float64(r.UserCount()) }))
}

// Server exposes /metrics over HTTP.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics HTTP server bound to addr.
func NewServer(addr string, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start blocks serving metrics until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.httpServer.Shutdown(context.Background())
	}()
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
