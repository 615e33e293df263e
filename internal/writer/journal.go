package writer

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/go-sqlite"

	appconfig "scalpflow/config"
	"scalpflow/internal/metrics"
	"scalpflow/internal/models"
	"scalpflow/logger"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS trade_logs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	spot_price  REAL NOT NULL,
	basis       REAL NOT NULL,
	pcr         REAL NOT NULL,
	signal      TEXT NOT NULL,
	trap_reason TEXT NOT NULL DEFAULT '',
	ce_symbol   TEXT NOT NULL DEFAULT '',
	pe_symbol   TEXT NOT NULL DEFAULT '',
	ce_price    REAL NOT NULL,
	pe_price    REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_logs_ts ON trade_logs (ts);
`

// Journal persists signal changes to sqlite. Enqueue never blocks; a full
// queue drops the entry.
type Journal struct {
	cfg   appconfig.JournalConfig
	db    *sql.DB
	queue chan models.TradeLog

	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool

	written atomic.Int64
	dropped atomic.Int64
	errors  atomic.Int64

	log *logger.Log
}

// NewJournal opens the database at cfg.Path and creates the schema.
func NewJournal(cfg appconfig.JournalConfig) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path not configured")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// one connection keeps in-memory databases shared and serialises writers
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create trade_logs table: %w", err)
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}

	j := &Journal{
		cfg:   cfg,
		db:    db,
		queue: make(chan models.TradeLog, size),
		wg:    &sync.WaitGroup{},
		log:   logger.GetLogger(),
	}
	j.log.WithComponent("journal").WithFields(logger.Fields{
		"path":       cfg.Path,
		"queue_size": size,
	}).Info("trade journal opened")
	return j, nil
}

// Start launches the writer goroutine.
func (j *Journal) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return fmt.Errorf("journal already running")
	}
	j.running = true
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go j.run()
	return nil
}

// Stop drains the queue and waits for the writer goroutine.
func (j *Journal) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	cancel := j.cancel
	j.mu.Unlock()

	cancel()
	j.wg.Wait()
	metrics.ReportWriter(j.log, "journal", j.GetStats())
	j.log.WithComponent("journal").Info("trade journal stopped")
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Enqueue queues an entry for writing. It returns false when the queue is full.
func (j *Journal) Enqueue(entry models.TradeLog) bool {
	select {
	case j.queue <- entry:
		return true
	default:
		j.dropped.Add(1)
		return false
	}
}

func (j *Journal) run() {
	defer j.wg.Done()
	for {
		select {
		case <-j.ctx.Done():
			j.drain()
			return
		case entry := <-j.queue:
			j.write(j.ctx, entry)
		}
	}
}

func (j *Journal) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case entry := <-j.queue:
			j.write(ctx, entry)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, entry models.TradeLog) {
	id, err := j.Insert(ctx, entry)
	if err != nil {
		j.errors.Add(1)
		metrics.IncrementWriterError("journal")
		j.log.WithComponent("journal").WithError(err).WithFields(logger.Fields{
			"signal": entry.Signal,
		}).Error("failed to write trade log")
		return
	}
	j.written.Add(1)
	logger.IncrementJournalWrite()
	j.log.WithComponent("journal").WithFields(logger.Fields{
		"id":        id,
		"signal":    entry.Signal,
		"spot":      entry.SpotPrice,
		"ce_symbol": entry.CESymbol,
		"pe_symbol": entry.PESymbol,
	}).Info("trade log written")
}

// Insert writes one entry synchronously and returns its row id.
func (j *Journal) Insert(ctx context.Context, entry models.TradeLog) (int64, error) {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO trade_logs (ts, spot_price, basis, pcr, signal, trap_reason, ce_symbol, pe_symbol, ce_price, pe_price)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UnixMilli(), entry.SpotPrice, entry.Basis, entry.PCR, string(entry.Signal),
		entry.TrapReason, entry.CESymbol, entry.PESymbol, entry.CEPrice, entry.PEPrice,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade log: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]models.TradeLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts, spot_price, basis, pcr, signal, trap_reason, ce_symbol, pe_symbol, ce_price, pe_price
		 FROM trade_logs ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade logs: %w", err)
	}
	defer rows.Close()

	out := make([]models.TradeLog, 0, limit)
	for rows.Next() {
		var (
			entry  models.TradeLog
			ts     int64
			signal string
		)
		if err := rows.Scan(&entry.ID, &ts, &entry.SpotPrice, &entry.Basis, &entry.PCR, &signal,
			&entry.TrapReason, &entry.CESymbol, &entry.PESymbol, &entry.CEPrice, &entry.PEPrice); err != nil {
			return nil, fmt.Errorf("failed to scan trade log: %w", err)
		}
		entry.Timestamp = time.UnixMilli(ts).UTC()
		entry.Signal = models.Signal(signal)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// GetStats returns the journal counters.
func (j *Journal) GetStats() metrics.WriterStats {
	return metrics.WriterStats{
		RecordsWritten: j.written.Load(),
		ErrorsCount:    j.errors.Load(),
		Dropped:        j.dropped.Load(),
		QueueLen:       len(j.queue),
		QueueCap:       cap(j.queue),
	}
}
