// Registers:
//
//	#scalpflow_ticks_total{source}
//	#scalpflow_ticks_dropped_total{source}
//	#scalpflow_evaluations_total
//	#scalpflow_signals_total{signal}
//	#scalpflow_signal_changes_total{from,to}
//	#scalpflow_evaluation_seconds
//	#scalpflow_feed_latency_ms
//	#scalpflow_writer_errors_total{writer}
//	#go_* and process_* system metrics
//
// Exposes them on <metrics.address>/metrics using the Prometheus HTTP handler.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scalpflow/config"
	"scalpflow/logger"
)

// Feature names a metric family that can be switched off in config.
type Feature string

const (
	FeatureChannelSize Feature = "channel_size"
	FeatureLatency     Feature = "latency"
)

var features atomic.Pointer[config.MetricsConfig]

func init() {
	cfg := config.Default().Metrics
	features.Store(&cfg)
}

// Configure replaces the active feature switches.
func Configure(cfg config.MetricsConfig) {
	features.Store(&cfg)
}

// IsFeatureEnabled reports whether the metric family is switched on.
func IsFeatureEnabled(f Feature) bool {
	cfg := features.Load()
	if cfg == nil {
		return true
	}
	switch f {
	case FeatureChannelSize:
		return cfg.ChannelSize
	case FeatureLatency:
		return cfg.Latency
	default:
		return true
	}
}

var (
	registry = prometheus.NewRegistry()

	ticksApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalpflow_ticks_total",
			Help: "Ticks accepted into engine state",
		},
		[]string{"source"},
	)
	ticksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalpflow_ticks_dropped_total",
			Help: "Ticks dropped before reaching the engine",
		},
		[]string{"source"},
	)
	evaluations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scalpflow_evaluations_total",
		Help: "Evaluation cycles run",
	})
	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalpflow_signals_total",
			Help: "Resolved signals per evaluation",
		},
		[]string{"signal"},
	)
	signalChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalpflow_signal_changes_total",
			Help: "Transitions between resolved signals",
		},
		[]string{"from", "to"},
	)
	evaluationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scalpflow_evaluation_seconds",
		Help:    "Time spent in one evaluation cycle",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})
	feedLatency = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scalpflow_feed_latency_ms",
		Help: "Smoothed exchange to engine latency",
	})
	writerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalpflow_writer_errors_total",
			Help: "Failed writes per sink",
		},
		[]string{"writer"},
	)

	serveOnce sync.Once
)

func init() {
	registry.MustRegister(
		ticksApplied,
		ticksDropped,
		evaluations,
		signals,
		signalChanges,
		evaluationSeconds,
		feedLatency,
		writerErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler returns the Prometheus HTTP handler for the engine registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Init applies the feature switches and starts the /metrics listener once.
func Init(cfg config.MetricsConfig) {
	Configure(cfg)
	if !cfg.Enabled || cfg.Address == "" {
		return
	}
	serveOnce.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", Handler())
		srv := &http.Server{Addr: cfg.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.GetLogger().WithComponent("metrics").WithError(err).Error("metrics server failed")
			}
		}()
		logger.GetLogger().WithComponent("metrics").WithFields(logger.Fields{"address": cfg.Address}).Info("metrics server started")
	})
}

// IncrementTick counts a tick accepted by the engine.
func IncrementTick(source string) {
	ticksApplied.WithLabelValues(source).Inc()
}

// ObserveEvaluation records one evaluation cycle and the signal it produced.
func ObserveEvaluation(signal string, d time.Duration) {
	evaluations.Inc()
	signals.WithLabelValues(signal).Inc()
	evaluationSeconds.Observe(d.Seconds())
}

// IncrementSignalChange counts a transition between resolved signals.
func IncrementSignalChange(from, to string) {
	signalChanges.WithLabelValues(from, to).Inc()
}

// SetFeedLatency publishes the smoothed feed latency.
func SetFeedLatency(ms float64) {
	if !IsFeatureEnabled(FeatureLatency) {
		return
	}
	feedLatency.Set(ms)
}

// IncrementWriterError counts a failed sink write.
func IncrementWriterError(writer string) {
	writerErrors.WithLabelValues(writer).Inc()
}
