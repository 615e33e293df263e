package tick

import (
	"context"
	"sync"

	"scalpflow/internal/models"
	"scalpflow/logger"
)

// ChannelStats tracks enqueue/dropped counters.
type ChannelStats struct {
	Sent    int64
	Dropped int64
	// BySource counts accepted ticks per feed.
	BySource map[models.Source]int64
}

// Channels carries normalised ticks from the readers to the signal processor.
type Channels struct {
	Ticks chan models.Tick

	stats   ChannelStats
	statsMu sync.RWMutex
	mu      sync.RWMutex
	closed  bool
	log     *logger.Log
}

// NewChannels allocates the buffered tick stream.
func NewChannels(bufferSize int) *Channels {
	log := logger.GetLogger()
	ch := &Channels{
		Ticks: make(chan models.Tick, bufferSize),
		stats: ChannelStats{BySource: make(map[models.Source]int64)},
		log:   log,
	}

	log.WithComponent("tick_channels").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Info("tick channels initialized")

	return ch
}

// Close closes the tick stream. Calling it twice is a no-op.
func (c *Channels) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Ticks)
	c.log.WithComponent("tick_channels").Info("tick channels closed")
}

// SendTick enqueues a tick without blocking. A full buffer drops the tick.
func (c *Channels) SendTick(ctx context.Context, t models.Tick) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	default:
	}

	select {
	case c.Ticks <- t:
		c.incrementSent(t.Source)
		return true
	default:
		c.incrementDropped()
		return false
	}
}

// GetStats returns a snapshot of the telemetry counters.
func (c *Channels) GetStats() ChannelStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	out := ChannelStats{
		Sent:     c.stats.Sent,
		Dropped:  c.stats.Dropped,
		BySource: make(map[models.Source]int64, len(c.stats.BySource)),
	}
	for k, v := range c.stats.BySource {
		out.BySource[k] = v
	}
	return out
}

func (c *Channels) incrementSent(src models.Source) {
	c.statsMu.Lock()
	c.stats.Sent++
	c.stats.BySource[src]++
	c.statsMu.Unlock()
}

func (c *Channels) incrementDropped() {
	c.statsMu.Lock()
	c.stats.Dropped++
	c.statsMu.Unlock()
}
