package metrics

import "scalpflow/logger"

// ProcessorStats holds the signal processor counters.
type ProcessorStats struct {
	TicksApplied  int64
	TicksRejected int64
	Evaluations   int64
	SignalChanges int64
	LastSignal    string
	LatencyMS     float64
}

// ReportProcessor emits the signal processor counters.
func ReportProcessor(log *logger.Log, stats ProcessorStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	const component = "signal_processor"

	rejectRate := float64(0)
	if total := stats.TicksApplied + stats.TicksRejected; total > 0 {
		rejectRate = float64(stats.TicksRejected) / float64(total)
	}

	EmitMetric(log, component, "ticks_applied", stats.TicksApplied, "counter", nil)
	EmitMetric(log, component, "ticks_rejected", stats.TicksRejected, "counter", nil)
	EmitMetric(log, component, "tick_reject_rate", rejectRate, "gauge", nil)
	EmitMetric(log, component, "evaluations", stats.Evaluations, "counter", nil)
	EmitMetric(log, component, "signal_changes", stats.SignalChanges, "counter", nil)
	EmitMetric(log, component, "feed_latency_ms", stats.LatencyMS, "gauge", logger.Fields{"unit": "milliseconds"})
	SetFeedLatency(stats.LatencyMS)

	log.WithComponent(component).WithFields(logger.Fields{
		"ticks_applied":    stats.TicksApplied,
		"ticks_rejected":   stats.TicksRejected,
		"tick_reject_rate": rejectRate,
		"evaluations":      stats.Evaluations,
		"signal_changes":   stats.SignalChanges,
		"last_signal":      stats.LastSignal,
		"latency_ms":       stats.LatencyMS,
	}).Info("signal processor metrics")
}
