package station

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// -------------- Prometheus Metrics --------------

// Metrics holds the Prometheus metrics a scan reports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RoundsTotal          prometheus.Counter
	Candidates           prometheus.Gauge
	ConnectAttempts      *prometheus.CounterVec
	ConnectionsDelivered prometheus.Counter
	InFlight             prometheus.Gauge
	RoundDuration        prometheus.Histogram
}

// NewMetrics initializes and returns a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		RoundsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "station_scan_rounds_total",
				Help: "Total number of completed scan rounds.",
			},
		),
		Candidates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "station_scan_candidates",
				Help: "Number of endpoints dispatched in the most recent round.",
			},
		),
		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "station_connect_attempts_total",
				Help: "Connect attempts by outcome.",
			},
			[]string{"outcome"},
		),
		ConnectionsDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "station_connections_delivered_total",
				Help: "Connections handed to the consumer.",
			},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "station_connect_in_flight",
				Help: "Connect attempts currently holding a permit.",
			},
		),
		RoundDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "station_scan_round_duration_seconds",
				Help:    "Duration of scan rounds in seconds, excluding pacing.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.RoundsTotal,
		m.Candidates,
		m.ConnectAttempts,
		m.ConnectionsDelivered,
		m.InFlight,
		m.RoundDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return nil
}

func (m *Metrics) observeAttempt(outcome string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDelivered() {
	if m == nil {
		return
	}
	m.ConnectionsDelivered.Inc()
}

func (m *Metrics) addInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}

func (m *Metrics) observeRound(candidates int64, d time.Duration) {
	if m == nil {
		return
	}
	m.RoundsTotal.Inc()
	m.Candidates.Set(float64(candidates))
	m.RoundDuration.Observe(d.Seconds())
}

// -------------- Metrics server --------------

// NewMetricsServer builds the HTTP server exposing /metrics and /health for
// the given gatherer.
func NewMetricsServer(port string, gatherer prometheus.Gatherer, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()

	var handler http.Handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	handler = rateLimitMiddleware(handler, rate.NewLimiter(5, 10))
	handler = loggerMiddleware(handler, logger)

	mux.Handle("/metrics", handler)
	mux.HandleFunc("/health", healthCheckHandler)
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "station version %s\n", AppVersion)
	})

	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// StartMetricsServer starts srv in the background.
func StartMetricsServer(srv *http.Server, logger *zap.Logger) {
	go func() {
		logger.Info("Starting metrics server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server listen failed", zap.Error(err))
		}
	}()
}

// -------------- HTTP Middleware --------------

// rateLimitMiddleware adds rate limiting to an HTTP handler
func rateLimitMiddleware(next http.Handler, limiter *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggerMiddleware adds request logging to an HTTP handler
func loggerMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{w, http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// responseWriter is a custom response writer that captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// healthCheckHandler responds to health check requests
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
