// Package metrics exposes streamer counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"HydrophoneStreamer/pkg/logger"
)

const namespace = "hydrophone_streamer"

// Cycle outcomes used as the "result" label.
const (
	ResultFetched = "fetched"
	ResultIdle    = "idle"
	ResultError   = "error"
)

// Metrics groups the collectors of one streamer process.
type Metrics struct {
	registry *prometheus.Registry

	BuildInfo      *prometheus.GaugeVec
	Cycles         *prometheus.CounterVec
	FilesFetched   *prometheus.CounterVec
	BytesFetched   prometheus.Counter
	Conversions    *prometheus.CounterVec
	OrdersPlaced   prometheus.Counter
	FilesSwept     prometheus.Counter
	Errors         *prometheus.CounterVec
	LatestRecorded prometheus.Gauge
	CycleDuration  prometheus.Histogram
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information of the streamer.",
		}, []string{"version", "network"}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Polling cycles by result.",
		}, []string{"result"}),
		FilesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_fetched_total",
			Help:      "Audio files downloaded, by network.",
		}, []string{"network"}),
		BytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_fetched_total",
			Help:      "Bytes written by downloads.",
		}),
		Conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Format conversions by outcome.",
		}, []string{"outcome"}),
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Data product orders accepted by the provider.",
		}),
		FilesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_swept_total",
			Help:      "Files removed by the retention sweep.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by pipeline stage.",
		}, []string{"stage"}),
		LatestRecorded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_recording_timestamp_seconds",
			Help:      "Recording time of the file named in latest.txt.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one polling cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
	}

	reg.MustRegister(
		m.BuildInfo,
		m.Cycles,
		m.FilesFetched,
		m.BytesFetched,
		m.Conversions,
		m.OrdersPlaced,
		m.FilesSwept,
		m.Errors,
		m.LatestRecorded,
		m.CycleDuration,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve runs the /metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger.New("metrics", log),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("prometheus metrics server listening", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// The helpers below accept a nil receiver so callers can run without metrics.

// ObserveCycle counts one cycle and records its duration.
func (m *Metrics) ObserveCycle(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
}

// FileFetched counts a completed download of size bytes.
func (m *Metrics) FileFetched(network string, size int64) {
	if m == nil {
		return
	}
	m.FilesFetched.WithLabelValues(network).Inc()
	if size > 0 {
		m.BytesFetched.Add(float64(size))
	}
}

// Converted counts a conversion outcome ("ok" or "failed").
func (m *Metrics) Converted(outcome string) {
	if m == nil {
		return
	}
	m.Conversions.WithLabelValues(outcome).Inc()
}

// OrderPlaced counts an accepted data product order.
func (m *Metrics) OrderPlaced() {
	if m == nil {
		return
	}
	m.OrdersPlaced.Inc()
}

// Swept counts files removed by retention.
func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FilesSwept.Add(float64(n))
}

// Error counts a failure in stage.
func (m *Metrics) Error(stage string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(stage).Inc()
}

// SetLatest records the recording time of the newest local file.
func (m *Metrics) SetLatest(ts time.Time) {
	if m == nil || ts.IsZero() {
		return
	}
	m.LatestRecorded.Set(float64(ts.Unix()))
}
