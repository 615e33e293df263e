package record

import (
	"context"
	"testing"

	"scalpflow/internal/models"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub(1)
	defer h.Close()

	fast, err := h.Subscribe("dashboard")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := h.Subscribe("archive"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := h.Subscribe("archive"); err == nil {
		t.Fatalf("expected duplicate subscriber error")
	}

	ctx := context.Background()
	if n := h.Publish(ctx, models.SignalRecord{Signal: models.SignalBuyCall}); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	<-fast

	// archive never drains so its buffer is full now
	if n := h.Publish(ctx, models.SignalRecord{Signal: models.SignalWait}); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	stats := h.GetStats()
	if stats.Published != 2 {
		t.Fatalf("expected 2 published, got %d", stats.Published)
	}
	if s := stats.Subscribers["archive"]; s.Delivered != 1 || s.Dropped != 1 || s.Len != 1 {
		t.Fatalf("unexpected archive stats: %+v", s)
	}
	if s := stats.Subscribers["dashboard"]; s.Delivered != 2 || s.Dropped != 0 {
		t.Fatalf("unexpected dashboard stats: %+v", s)
	}
	if got := (<-fast).Signal; got != models.SignalWait {
		t.Fatalf("expected WAIT, got %s", got)
	}
}

func TestHubUnsubscribeAndClose(t *testing.T) {
	h := NewHub(2)
	ch, err := h.Subscribe("kafka")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	h.Unsubscribe("kafka")
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}
	if names := h.Names(); len(names) != 0 {
		t.Fatalf("expected no subscribers, got %v", names)
	}

	other, _ := h.Subscribe("journal")
	h.Close()
	h.Close()
	if _, ok := <-other; ok {
		t.Fatalf("expected channel closed after hub close")
	}
	if n := h.Publish(context.Background(), models.SignalRecord{}); n != 0 {
		t.Fatalf("publish after close should deliver nothing")
	}
	if _, err := h.Subscribe("late"); err == nil {
		t.Fatalf("expected subscribe after close to fail")
	}
}
