package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	appconfig "scalpflow/config"
	"scalpflow/internal/channel/record"
	"scalpflow/internal/channel/tick"
	"scalpflow/internal/models"
)

type scriptedEngine struct {
	mu      sync.Mutex
	signals []models.Signal
	applied []models.Tick
	evals   int
}

func (e *scriptedEngine) Apply(t models.Tick) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, t)
	return t.Source != models.SourceUnknown
}

func (e *scriptedEngine) Evaluate(now time.Time) models.SignalRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	sig := models.SignalWait
	if e.evals < len(e.signals) {
		sig = e.signals[e.evals]
	}
	e.evals++
	return models.SignalRecord{Timestamp: now, Signal: sig, CESymbol: "NIFTY26DEC2425000CE"}
}

func (e *scriptedEngine) evaluations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evals
}

type memJournal struct {
	mu      sync.Mutex
	cap     int
	entries []models.TradeLog
}

func (j *memJournal) Enqueue(entry models.TradeLog) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) >= j.cap {
		return false
	}
	j.entries = append(j.entries, entry)
	return true
}

func testConfig() *appconfig.Config {
	cfg := appconfig.Default()
	cfg.Engine.Cadence = 5 * time.Millisecond
	cfg.Metrics.Interval = time.Hour
	return &cfg
}

func TestSignalProcessorStartStop(t *testing.T) {
	p := NewSignalProcessor(testConfig(), &scriptedEngine{}, tick.NewChannels(4), nil, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Fatalf("expected error on second start")
	}
	p.Stop()
	p.Stop()
}

func TestSignalProcessorChangeDetection(t *testing.T) {
	eng := &scriptedEngine{signals: []models.Signal{
		models.SignalWait,
		models.SignalBuyCall,
		models.SignalBuyCall,
		models.SignalWait,
		models.SignalTrap,
	}}
	journal := &memJournal{cap: 10}
	p := NewSignalProcessor(testConfig(), eng, tick.NewChannels(1), nil, journal)

	ctx := context.Background()
	for i := 0; i < len(eng.signals); i++ {
		p.EvaluateOnce(ctx)
	}

	stats := p.GetStats()
	if stats.Evaluations != 5 || stats.SignalChanges != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.LastSignal != string(models.SignalTrap) {
		t.Fatalf("unexpected last signal %q", stats.LastSignal)
	}
	if len(journal.entries) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(journal.entries))
	}
	if journal.entries[0].Signal != models.SignalBuyCall || journal.entries[1].Signal != models.SignalTrap {
		t.Fatalf("unexpected journal entries: %+v", journal.entries)
	}
}

func TestSignalProcessorJournalsFirstActionableSignal(t *testing.T) {
	eng := &scriptedEngine{signals: []models.Signal{models.SignalBuyPut}}
	journal := &memJournal{cap: 0}
	p := NewSignalProcessor(testConfig(), eng, tick.NewChannels(1), nil, journal)

	// a full journal drops the entry without blocking the cycle
	rec := p.EvaluateOnce(context.Background())
	if rec.Signal != models.SignalBuyPut {
		t.Fatalf("unexpected signal %s", rec.Signal)
	}
	if len(journal.entries) != 0 {
		t.Fatalf("full journal should not accept entries")
	}
	if p.GetStats().SignalChanges != 0 {
		t.Fatalf("first signal is not a change")
	}
}

func TestSignalProcessorIngestAndPublish(t *testing.T) {
	eng := &scriptedEngine{}
	ticks := tick.NewChannels(8)
	hub := record.NewHub(4)
	defer hub.Close()
	feed, err := hub.Subscribe("test")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	p := NewSignalProcessor(testConfig(), eng, ticks, hub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	ticks.SendTick(ctx, models.Tick{Source: models.SourceSpot, Price: 25000})
	ticks.SendTick(ctx, models.Tick{Source: models.SourceUnknown, Token: "x"})

	select {
	case rec := <-feed:
		if rec.Signal != models.SignalWait {
			t.Fatalf("unexpected record signal %s", rec.Signal)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no record published")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := p.GetStats(); s.TicksApplied+s.TicksRejected == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	stats := p.GetStats()
	if stats.TicksApplied != 1 || stats.TicksRejected != 1 {
		t.Fatalf("unexpected tick counters: %+v", stats)
	}
}

func TestSignalProcessorStopsOnContextCancel(t *testing.T) {
	eng := &scriptedEngine{}
	p := NewSignalProcessor(testConfig(), eng, tick.NewChannels(1), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	cancel()
	p.Stop()

	evals := eng.evaluations()
	time.Sleep(30 * time.Millisecond)
	if after := eng.evaluations(); after != evals {
		t.Fatalf("evaluations continued after cancel: %d -> %d", evals, after)
	}
	if evals == 0 {
		t.Fatalf("expected at least one evaluation")
	}
}
