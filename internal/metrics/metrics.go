package metrics

import (
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Classify API metrics
	AnalyzeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockedin_analyze_requests_total",
			Help: "Total number of /analyze requests by response status",
		},
		[]string{"status"},
	)

	AnalyzeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lockedin_analyze_duration_seconds",
			Help:    "Time spent serving /analyze in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"status"},
	)

	// Usage metrics
	QuotaRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockedin_quota_rejections_total",
			Help: "Requests rejected because the daily quota was reached",
		},
	)

	QuotaAdmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockedin_quota_admissions_total",
			Help: "Requests admitted by the daily usage ledger",
		},
	)

	UsageRecordsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockedin_usage_records_pruned_total",
			Help: "Usage records removed by retention cleanup",
		},
	)

	// Model metrics
	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockedin_model_requests_total",
			Help: "Classification calls to the model backend by result",
		},
		[]string{"result"},
	)

	VerdictCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockedin_verdict_cache_hits_total",
			Help: "Verdict cache hits",
		},
	)

	VerdictCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockedin_verdict_cache_misses_total",
			Help: "Verdict cache misses",
		},
	)

	// Client pipeline metrics
	PipelineDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockedin_pipeline_decisions_total",
			Help: "Navigation decisions taken by the watcher",
		},
		[]string{"action", "kind"},
	)

	ClassifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lockedin_classify_duration_seconds",
			Help:    "Round trip time of remote classification calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	InFlightEvaluations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockedin_inflight_evaluations",
			Help: "Navigation evaluations currently running",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		AnalyzeRequestsTotal,
		AnalyzeDuration,
		QuotaRejections,
		QuotaAdmissions,
		UsageRecordsPruned,
		ModelRequestsTotal,
		VerdictCacheHits,
		VerdictCacheMisses,
		PipelineDecisions,
		ClassifyDuration,
		InFlightEvaluations,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
