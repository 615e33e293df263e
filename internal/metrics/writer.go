package metrics

import "scalpflow/logger"

// WriterStats holds counters shared by the record sinks.
type WriterStats struct {
	RecordsWritten int64
	FilesWritten   int64
	BytesWritten   int64
	ErrorsCount    int64
	Dropped        int64
	QueueLen       int
	QueueCap       int
}

// ReportWriter emits the sink counters under the given component name.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.RecordsWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.RecordsWritten+stats.ErrorsCount)
	}

	EmitMetric(log, component, "records_written", stats.RecordsWritten, "counter", nil)
	EmitMetric(log, component, "errors_count", stats.ErrorsCount, "counter", nil)
	EmitMetric(log, component, "error_rate", errorRate, "gauge", nil)
	if stats.FilesWritten > 0 {
		EmitMetric(log, component, "files_written", stats.FilesWritten, "counter", nil)
		EmitMetric(log, component, "bytes_written", stats.BytesWritten, "counter", nil)
	}

	entry := l.WithFields(logger.Fields{
		"records_written": stats.RecordsWritten,
		"files_written":   stats.FilesWritten,
		"bytes_written":   stats.BytesWritten,
		"errors_count":    stats.ErrorsCount,
		"dropped":         stats.Dropped,
		"error_rate":      errorRate,
		"queue_len":       stats.QueueLen,
		"queue_cap":       stats.QueueCap,
	})

	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}

	entry.Info(component + " metrics")
}
