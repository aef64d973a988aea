package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	connectionsTotal prometheus.Counter
	handoffsTotal    *prometheus.CounterVec
	handoffErrors    prometheus.Counter

	requestsTotal  *prometheus.CounterVec
	responsesTotal *prometheus.CounterVec
	bytesServed    prometheus.Counter
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httpd_connections_total",
			Help: "Total number of TCP connections accepted.",
		}),
		handoffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpd_handoffs_total",
			Help: "Total number of connections handed off to workers.",
		}, []string{"mode"}),
		handoffErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httpd_handoff_errors_total",
			Help: "Total number of failed connection handoffs.",
		}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpd_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"method"}),
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpd_responses_total",
			Help: "Total number of HTTP responses sent.",
		}, []string{"status"}),
		bytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httpd_body_bytes_total",
			Help: "Total response body bytes served.",
		}),
	}

	reg.MustRegister(
		c.connectionsTotal,
		c.handoffsTotal,
		c.handoffErrors,
		c.requestsTotal,
		c.responsesTotal,
		c.bytesServed,
	)

	return c
}

// ConnectionAccepted increments the accepted connection counter.
func (c *PrometheusCollector) ConnectionAccepted() {
	c.connectionsTotal.Inc()
}

// HandoffCompleted increments the handoff counter for the given mode.
func (c *PrometheusCollector) HandoffCompleted(mode string) {
	c.handoffsTotal.WithLabelValues(mode).Inc()
}

// HandoffFailed increments the failed handoff counter.
func (c *PrometheusCollector) HandoffFailed() {
	c.handoffErrors.Inc()
}

// RequestProcessed increments the request counter.
func (c *PrometheusCollector) RequestProcessed(method string) {
	c.requestsTotal.WithLabelValues(method).Inc()
}

// ResponseSent increments the response counter for the status code.
func (c *PrometheusCollector) ResponseSent(status int) {
	c.responsesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// BytesServed adds to the served bytes counter.
func (c *PrometheusCollector) BytesServed(n int64) {
	c.bytesServed.Add(float64(n))
}

// PrometheusServer serves the metrics HTTP endpoint.
type PrometheusServer struct {
	server *http.Server
}

// NewPrometheusServer creates a metrics server on the given address and path.
func NewPrometheusServer(address, path string) *PrometheusServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &PrometheusServer{
		server: &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves metrics until ctx is canceled.
func (s *PrometheusServer) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the metrics server.
func (s *PrometheusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
