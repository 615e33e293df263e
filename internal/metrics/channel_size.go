package metrics

import (
	"context"
	"time"

	"scalpflow/internal/channel"
	"scalpflow/logger"
)

// StartChannelSizeMetrics emits occupancy of the tick buffer and of every
// record subscriber buffer each interval until ctx is cancelled. A
// non-positive interval means one second.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelSize) {
		return
	}
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emitChannelSizes(log, channels)
			}
		}
	}()
}

func emitChannelSizes(log *logger.Log, channels *channel.Channels) {
	const component = "channel_buffers"
	if channels.Ticks != nil {
		EmitMetric(log, component, "tick_buffer_length", len(channels.Ticks.Ticks), "gauge", logger.Fields{
			"buffer":   "ticks",
			"capacity": cap(channels.Ticks.Ticks),
		})
	}
	if channels.Records != nil {
		for name, s := range channels.Records.GetStats().Subscribers {
			EmitMetric(log, component, "record_buffer_length", s.Len, "gauge", logger.Fields{
				"buffer":   name,
				"capacity": s.Cap,
			})
		}
	}
}
