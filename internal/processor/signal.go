package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "scalpflow/config"
	"scalpflow/internal/channel/record"
	"scalpflow/internal/channel/tick"
	"scalpflow/internal/metrics"
	"scalpflow/internal/models"
	"scalpflow/logger"
)

// Engine is the state owner the processor drives.
type Engine interface {
	Apply(t models.Tick) bool
	Evaluate(now time.Time) models.SignalRecord
}

// Journal accepts trade log entries without blocking.
type Journal interface {
	Enqueue(entry models.TradeLog) bool
}

// SignalProcessor feeds ticks into the engine and evaluates it on a fixed
// cadence, independent of tick arrival.
type SignalProcessor struct {
	config  *appconfig.Config
	engine  Engine
	ticks   *tick.Channels
	records *record.Hub
	journal Journal
	now     func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	statsMu    sync.RWMutex
	stats      metrics.ProcessorStats
	lastSignal models.Signal
}

// NewSignalProcessor wires the processor to its input and outputs. records
// and journal may be nil.
func NewSignalProcessor(cfg *appconfig.Config, engine Engine, ticks *tick.Channels, records *record.Hub, journal Journal) *SignalProcessor {
	return &SignalProcessor{
		config:  cfg,
		engine:  engine,
		ticks:   ticks,
		records: records,
		journal: journal,
		now:     time.Now,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

// Start launches the ingest loop, the evaluation scheduler and the reporter.
func (p *SignalProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("signal processor already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	log := p.log.WithComponent("signal_processor").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{"cadence": p.config.Engine.Cadence.String()}).Info("starting signal processor")

	p.wg.Add(1)
	go p.ingest()

	p.wg.Add(1)
	go p.scheduler()

	p.wg.Add(1)
	go p.reporter()
	return nil
}

// Stop cancels the periodic tasks and waits for them to exit.
func (p *SignalProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	p.log.WithComponent("signal_processor").Info("stopping signal processor")
	cancel()
	p.wg.Wait()
	p.log.WithComponent("signal_processor").Info("signal processor stopped")
}

func (p *SignalProcessor) ingest() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-p.ticks.Ticks:
			if !ok {
				return
			}
			p.apply(t)
		}
	}
}

func (p *SignalProcessor) apply(t models.Tick) {
	applied := p.engine.Apply(t)

	p.statsMu.Lock()
	if applied {
		p.stats.TicksApplied++
	} else {
		p.stats.TicksRejected++
	}
	p.statsMu.Unlock()

	if applied {
		metrics.IncrementTick(string(t.Source))
		return
	}
	p.log.WithComponent("signal_processor").WithFields(logger.Fields{
		"source": t.Source,
		"symbol": t.Symbol,
		"token":  t.Token,
	}).Debug("tick rejected")
}

func (p *SignalProcessor) scheduler() {
	defer p.wg.Done()
	cadence := p.config.Engine.Cadence
	if cadence <= 0 {
		cadence = time.Second
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.EvaluateOnce(p.ctx)
		}
	}
}

// EvaluateOnce runs one evaluation cycle, publishes the record and journals
// transitions into an actionable or trap state.
func (p *SignalProcessor) EvaluateOnce(ctx context.Context) models.SignalRecord {
	start := time.Now()
	rec := p.engine.Evaluate(p.now())
	elapsed := time.Since(start)
	metrics.ObserveEvaluation(string(rec.Signal), elapsed)

	p.statsMu.Lock()
	prev := p.lastSignal
	changed := prev != "" && prev != rec.Signal
	first := prev == ""
	p.lastSignal = rec.Signal
	p.stats.Evaluations++
	p.stats.LastSignal = string(rec.Signal)
	p.stats.LatencyMS = rec.LatencyMS
	if changed {
		p.stats.SignalChanges++
	}
	p.statsMu.Unlock()

	log := p.log.WithComponent("signal_processor")
	if changed {
		metrics.IncrementSignalChange(string(prev), string(rec.Signal))
		logger.IncrementSignalChange()
		log.WithFields(logger.Fields{
			"from":       prev,
			"to":         rec.Signal,
			"rule":       rec.Rule,
			"suggestion": rec.Suggestion,
		}).Info("signal changed")
	}
	if (changed || first) && rec.Signal != models.SignalWait {
		p.enqueueJournal(rec)
	}

	if p.records != nil {
		want := len(p.records.Names())
		if got := p.records.Publish(ctx, rec); got < want {
			metrics.EmitDropMetric(p.log, metrics.DropMetricRecord, "", rec.CESymbol, "publish")
			log.WithFields(logger.Fields{"accepted": got, "subscribers": want}).Warn("record dropped by slow subscriber")
		}
	}

	logger.LogPerformanceEntry(log, "signal_processor", "evaluate", elapsed, logger.Fields{"signal": rec.Signal})
	return rec
}

func (p *SignalProcessor) enqueueJournal(rec models.SignalRecord) {
	if p.journal == nil {
		return
	}
	if !p.journal.Enqueue(models.NewTradeLog(rec)) {
		metrics.EmitDropMetric(p.log, metrics.DropMetricJournal, "", rec.CESymbol, "journal")
		p.log.WithComponent("signal_processor").WithFields(logger.Fields{"signal": rec.Signal}).Warn("journal queue full, trade log dropped")
	}
}

func (p *SignalProcessor) reporter() {
	defer p.wg.Done()
	interval := p.config.Metrics.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportProcessor(p.log, p.GetStats())
		}
	}
}

// GetStats returns a snapshot of the processor counters.
func (p *SignalProcessor) GetStats() metrics.ProcessorStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}
