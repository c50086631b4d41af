// Package metrics exposes the ambient prometheus counters/gauges for
// the core (sessions open, requests translated, transformation-limit
// refusals, ACL denials, directory node count), plus a minimal
// /healthz and /metrics HTTP surface the CLI can optionally start
// (the one ambient piece carried over from infinoted-plugin-http.c;
// everything else about that plugin is out of scope since plugin
// loading itself is not specified).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infd_sessions_open",
		Help: "Number of sessions currently hosted by this process.",
	})
	RequestsTranslated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infd_requests_translated_total",
		Help: "Total requests successfully translated and applied by the OT algorithm.",
	})
	TransformationLimitRefusals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infd_transformation_limit_refusals_total",
		Help: "Total requests refused by the transformation-limit check hook.",
	})
	ACLDenials = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infd_acl_denials_total",
		Help: "Total directory operations refused by an ACL check.",
	})
	DirectoryNodeCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infd_directory_node_count",
		Help: "Number of nodes currently present in the directory tree.",
	})
)

func init() {
	prometheus.MustRegister(
		SessionsOpen,
		RequestsTranslated,
		TransformationLimitRefusals,
		ACLDenials,
		DirectoryNodeCount,
	)
}

// HealthFunc reports whether the server is healthy; returning false
// makes /healthz answer 503.
type HealthFunc func() bool

// Server is the minimal status/health HTTP surface, grounded in
// etalazz-vsa's small standalone metrics-endpoint server pattern.
type Server struct {
	health HealthFunc
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer returns a Server bound to addr, serving /healthz (using
// health, or always-healthy if nil) and /metrics.
func NewServer(addr string, health HealthFunc) *Server {
	if health == nil {
		health = func() bool { return true }
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !health() {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{
		health: health,
		mux:    mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's http.Handler, for embedding in tests
// or in a process that already owns its own listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks serving until the server is shut down or
// fails to bind.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Close shuts the server down immediately.
func (s *Server) Close() error {
	return s.srv.Close()
}
