// Package record fans evaluated signal records out to independent consumers.
// Each subscriber owns a bounded buffer; a slow consumer loses records instead
// of stalling the evaluation loop.
package record

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"scalpflow/internal/models"
	"scalpflow/logger"
)

// SubscriberStats tracks per-consumer delivery counters.
type SubscriberStats struct {
	Delivered int64
	Dropped   int64
	Len       int
	Cap       int
}

// HubStats is a snapshot of the hub counters.
type HubStats struct {
	Published   int64
	Subscribers map[string]SubscriberStats
}

type subscriber struct {
	ch        chan models.SignalRecord
	delivered int64
	dropped   int64
}

// Hub distributes each published record to every subscriber.
type Hub struct {
	buffer    int
	subs      map[string]*subscriber
	published int64
	closed    bool
	mu        sync.RWMutex
	log       *logger.Log
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	log := logger.GetLogger()
	log.WithComponent("record_hub").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Info("record hub initialized")

	return &Hub{
		buffer: bufferSize,
		subs:   make(map[string]*subscriber),
		log:    log,
	}
}

// Subscribe registers a named consumer and returns its receive channel.
func (h *Hub) Subscribe(name string) (<-chan models.SignalRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("record hub is closed")
	}
	if _, ok := h.subs[name]; ok {
		return nil, fmt.Errorf("subscriber %q already registered", name)
	}

	sub := &subscriber{ch: make(chan models.SignalRecord, h.buffer)}
	h.subs[name] = sub
	h.log.WithComponent("record_hub").WithFields(logger.Fields{"subscriber": name}).Debug("subscriber added")
	return sub.ch, nil
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[name]
	if !ok {
		return
	}
	delete(h.subs, name)
	close(sub.ch)
}

// Publish offers rec to every subscriber without blocking and returns the
// number of consumers that accepted it.
func (h *Hub) Publish(ctx context.Context, rec models.SignalRecord) int {
	select {
	case <-ctx.Done():
		return 0
	default:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}

	h.published++
	accepted := 0
	for _, sub := range h.subs {
		select {
		case sub.ch <- rec:
			sub.delivered++
			accepted++
		default:
			sub.dropped++
		}
	}
	return accepted
}

// GetStats returns a snapshot of the telemetry counters.
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HubStats{
		Published:   h.published,
		Subscribers: make(map[string]SubscriberStats, len(h.subs)),
	}
	for name, sub := range h.subs {
		stats.Subscribers[name] = SubscriberStats{
			Delivered: sub.delivered,
			Dropped:   sub.dropped,
			Len:       len(sub.ch),
			Cap:       cap(sub.ch),
		}
	}
	return stats
}

// Names lists the registered subscribers in sorted order.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.subs))
	for name := range h.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every subscriber channel. Further publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for name, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, name)
	}
	h.log.WithComponent("record_hub").Info("record hub closed")
}
