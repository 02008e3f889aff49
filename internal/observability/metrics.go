package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "darkswarm"

// Metrics holds the swarm's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ticks         prometheus.Counter
	tickDuration  prometheus.Histogram
	activeSignals prometheus.Gauge
	expired       prometheus.Counter
	merges        *prometheus.CounterVec
	emissions     *prometheus.CounterVec
	agentDuration *prometheus.HistogramVec
	agentFailures *prometheus.CounterVec
	runs          *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry, along with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Ticks executed by the coordinator.",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds",
			Help:    "Wall time of a full tick including the merge.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		activeSignals: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "field_active_signals",
			Help: "Signals in the field after the last merge.",
		}),
		expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "field_expired_signals_total",
			Help: "Signals removed by decay.",
		}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "field_merges_total",
			Help: "Submit outcomes by result.",
		}, []string{"result"}),
		emissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "agent_emissions_total",
			Help: "Signals emitted per agent kind.",
		}, []string{"agent_kind"}),
		agentDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "agent_process_duration_seconds",
			Help:    "Duration of one sense/process/emit cycle.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 16),
		}, []string{"agent_kind"}),
		agentFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "agent_failures_total",
			Help: "Agent calls that failed, by reason.",
		}, []string{"agent_kind", "reason"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total",
			Help: "Finished runs by terminal status.",
		}, []string{"status"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveTick(d time.Duration, active, expired int) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
	m.activeSignals.Set(float64(active))
	m.expired.Add(float64(expired))
}

func (m *Metrics) ObserveMerge(result string) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAgent(kind string, d time.Duration, emitted int) {
	if m == nil {
		return
	}
	m.agentDuration.WithLabelValues(kind).Observe(d.Seconds())
	m.emissions.WithLabelValues(kind).Add(float64(emitted))
}

func (m *Metrics) ObserveAgentFailure(kind, reason string) {
	if m == nil {
		return
	}
	m.agentFailures.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics.", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
