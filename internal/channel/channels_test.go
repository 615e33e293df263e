package channel

import (
	"context"
	"testing"
	"time"

	"scalpflow/config"
)

func TestNewChannels(t *testing.T) {
	c := NewChannels(config.ChannelsConfig{TickBuffer: 1, RecordBuffer: 1})
	if c.Ticks == nil || c.Records == nil {
		t.Fatalf("expected non-nil sub channels")
	}
	if cap(c.Ticks.Ticks) != 1 {
		t.Fatalf("unexpected tick buffer: %d", cap(c.Ticks.Ticks))
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.StartMetricsReporting(ctx, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	c.Close()
	c.Close()
}
