package channel

import (
	"context"
	"time"

	"scalpflow/config"
	"scalpflow/internal/channel/record"
	"scalpflow/internal/channel/tick"
	"scalpflow/logger"
)

// Channels groups the inbound tick stream and the outbound record hub.
type Channels struct {
	Ticks   *tick.Channels
	Records *record.Hub

	log *logger.Log
}

func NewChannels(cfg config.ChannelsConfig) *Channels {
	return &Channels{
		Ticks:   tick.NewChannels(cfg.TickBuffer),
		Records: record.NewHub(cfg.RecordBuffer),
		log:     logger.GetLogger(),
	}
}

// StartMetricsReporting logs channel counters every interval until ctx is done.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	fields := logger.Fields{}
	if c.Ticks != nil {
		ts := c.Ticks.GetStats()
		fields["ticks_sent"] = ts.Sent
		fields["ticks_dropped"] = ts.Dropped
		fields["tick_channel_len"] = len(c.Ticks.Ticks)
		fields["tick_channel_cap"] = cap(c.Ticks.Ticks)
	}
	if c.Records != nil {
		rs := c.Records.GetStats()
		fields["records_published"] = rs.Published
		for name, s := range rs.Subscribers {
			fields["records_dropped_"+name] = s.Dropped
		}
	}
	c.log.WithComponent("channels").WithFields(fields).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.Ticks != nil {
		c.Ticks.Close()
	}
	if c.Records != nil {
		c.Records.Close()
	}
}
