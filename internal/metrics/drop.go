package metrics

import "scalpflow/logger"

// DropMetric identifies the metric name emitted when a message is dropped.
type DropMetric string

const (
	// DropMetricTick records ticks lost to a full tick channel.
	DropMetricTick DropMetric = "tick_messages_dropped"
	// DropMetricRecord records signal records a subscriber could not take.
	DropMetricRecord DropMetric = "record_messages_dropped"
	// DropMetricJournal records trade log entries lost to a full journal queue.
	DropMetricJournal DropMetric = "journal_entries_dropped"
)

// EmitDropMetric logs and emits one dropped message. Source, symbol and stage
// are attached when non-empty.
func EmitDropMetric(log *logger.Log, metric DropMetric, source, symbol, stage string) {
	fields := logger.Fields{}
	if source != "" {
		fields["source"] = source
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}
	if metric == DropMetricTick {
		ticksDropped.WithLabelValues(source).Inc()
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
