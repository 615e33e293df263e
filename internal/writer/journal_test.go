package writer

import (
	"context"
	"testing"
	"time"

	appconfig "scalpflow/config"
	"scalpflow/internal/models"
)

func newMemJournal(t *testing.T, queue int) *Journal {
	t.Helper()
	j, err := NewJournal(appconfig.JournalConfig{Enabled: true, Path: "file::memory:", QueueSize: queue})
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestNewJournalRequiresPath(t *testing.T) {
	if _, err := NewJournal(appconfig.JournalConfig{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestJournalInsertAndRecent(t *testing.T) {
	j := newMemJournal(t, 10)
	ctx := context.Background()
	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)

	entries := []models.TradeLog{
		{Timestamp: base, SpotPrice: 25000, Basis: 45, PCR: 1.1, Signal: models.SignalBuyCall, CESymbol: "NIFTY02JAN2525000CE", PESymbol: "NIFTY02JAN2525000PE", CEPrice: 150, PEPrice: 140},
		{Timestamp: base.Add(time.Minute), SpotPrice: 24980, PCR: 0.5, Signal: models.SignalTrap, TrapReason: "BULL_TRAP"},
		{Timestamp: base.Add(2 * time.Minute), SpotPrice: 24950, Signal: models.SignalBuyPut},
	}
	for _, e := range entries {
		if _, err := j.Insert(ctx, e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Signal != models.SignalBuyPut || got[1].Signal != models.SignalTrap {
		t.Fatalf("expected newest first, got %s then %s", got[0].Signal, got[1].Signal)
	}
	if got[1].TrapReason != "BULL_TRAP" || got[1].PCR != 0.5 {
		t.Fatalf("unexpected trap row: %+v", got[1])
	}
	if !got[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("timestamp not preserved: %v", got[0].Timestamp)
	}
	if got[0].ID == 0 {
		t.Fatal("expected row id")
	}
}

func TestJournalEnqueueDropsWhenFull(t *testing.T) {
	j := newMemJournal(t, 2)
	entry := models.TradeLog{Timestamp: time.Now(), Signal: models.SignalBuyCall}

	if !j.Enqueue(entry) || !j.Enqueue(entry) {
		t.Fatal("expected first two entries to be queued")
	}
	if j.Enqueue(entry) {
		t.Fatal("expected third entry to be dropped")
	}
	stats := j.GetStats()
	if stats.Dropped != 1 || stats.QueueLen != 2 || stats.QueueCap != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestJournalLifecycleWritesQueuedEntries(t *testing.T) {
	j := newMemJournal(t, 10)
	ctx := context.Background()

	if err := j.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := j.Start(ctx); err == nil {
		t.Fatal("expected error on second Start")
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		j.Enqueue(models.TradeLog{Timestamp: now.Add(time.Duration(i) * time.Second), Signal: models.SignalBuyCall})
	}
	j.Stop()
	j.Stop()

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows after stop, got %d", len(got))
	}
	if stats := j.GetStats(); stats.RecordsWritten != 3 || stats.ErrorsCount != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
