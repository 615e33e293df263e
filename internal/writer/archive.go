package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "scalpflow/config"
	"scalpflow/internal/metadata"
	"scalpflow/internal/metrics"
	"scalpflow/internal/models"
	"scalpflow/internal/series"
	"scalpflow/logger"
)

const defaultUploadTimeout = 2 * time.Minute

// ObjectPutter is the part of the S3 client the archive needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type signalParquetRecord struct {
	Timestamp         int64    `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	MarketStatus      string   `parquet:"name=market_status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Signal            string   `parquet:"name=signal, type=BYTE_ARRAY, convertedtype=UTF8"`
	Rule              string   `parquet:"name=rule, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sentiment         string   `parquet:"name=sentiment, type=BYTE_ARRAY, convertedtype=UTF8"`
	Trend             string   `parquet:"name=trend, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarketTrend       string   `parquet:"name=market_trend, type=BYTE_ARRAY, convertedtype=UTF8"`
	Trap              string   `parquet:"name=trap, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastPrice         *float64 `parquet:"name=last_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	FuturePrice       *float64 `parquet:"name=future_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	RSI               *float64 `parquet:"name=rsi, type=DOUBLE, repetitiontype=OPTIONAL"`
	EMA               *float64 `parquet:"name=ema, type=DOUBLE, repetitiontype=OPTIONAL"`
	StraddlePrice     *float64 `parquet:"name=straddle_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	RealBasis         *float64 `parquet:"name=real_basis, type=DOUBLE, repetitiontype=OPTIONAL"`
	RelativeSentiment *float64 `parquet:"name=relative_sentiment, type=DOUBLE, repetitiontype=OPTIONAL"`
	Velocity          float64  `parquet:"name=velocity, type=DOUBLE"`
	PCR               *float64 `parquet:"name=pcr_ratio, type=DOUBLE, repetitiontype=OPTIONAL"`
	LatencyMS         float64  `parquet:"name=latency_ms, type=DOUBLE"`
	ATMStrike         *int64   `parquet:"name=atm_strike, type=INT64, repetitiontype=OPTIONAL"`
	CESymbol          string   `parquet:"name=ce_symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	PESymbol          string   `parquet:"name=pe_symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	CEPrice           *float64 `parquet:"name=ce_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	PEPrice           *float64 `parquet:"name=pe_price, type=DOUBLE, repetitiontype=OPTIONAL"`
}

func optionalPtr[T any](o series.Optional[T]) *T {
	v, ok := o.Get()
	if !ok {
		return nil
	}
	return &v
}

func toParquetRecord(rec models.SignalRecord) signalParquetRecord {
	var strike *int64
	if v, ok := rec.ATMStrike.Get(); ok {
		s := int64(v)
		strike = &s
	}
	return signalParquetRecord{
		Timestamp:         rec.Timestamp.UnixMilli(),
		MarketStatus:      string(rec.MarketStatus),
		Signal:            string(rec.Signal),
		Rule:              rec.Rule,
		Sentiment:         string(rec.Sentiment),
		Trend:             string(rec.Trend),
		MarketTrend:       string(rec.MarketTrend),
		Trap:              string(rec.Trap),
		LastPrice:         optionalPtr(rec.LastPrice),
		FuturePrice:       optionalPtr(rec.FuturePrice),
		RSI:               optionalPtr(rec.RSI),
		EMA:               optionalPtr(rec.EMA),
		StraddlePrice:     optionalPtr(rec.StraddlePrice),
		RealBasis:         optionalPtr(rec.RealBasis),
		RelativeSentiment: optionalPtr(rec.RelativeSentiment),
		Velocity:          rec.Velocity,
		PCR:               optionalPtr(rec.PCRRatio),
		LatencyMS:         rec.LatencyMS,
		ATMStrike:         strike,
		CESymbol:          rec.CESymbol,
		PESymbol:          rec.PESymbol,
		CEPrice:           optionalPtr(rec.CEPrice),
		PEPrice:           optionalPtr(rec.PEPrice),
	}
}

type archiveBatch struct {
	Records   []models.SignalRecord
	Timestamp time.Time
	Reason    string
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// Archive batches signal records into hourly parquet files on S3.
type Archive struct {
	cfg      *appconfig.Config
	records  <-chan models.SignalRecord
	s3Client ObjectPutter
	bucket   string
	metaGen  *metadata.Generator

	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	workerWg *sync.WaitGroup

	log *logger.Log

	mu          sync.Mutex
	buffer      []models.SignalRecord
	pending     []archiveBatch
	flushTicker *time.Ticker
	maxBuffer   int
	jobCh       chan archiveBatch
	running     bool

	recordsWritten atomic.Int64
	filesWritten   atomic.Int64
	bytesWritten   atomic.Int64
	errorsCount    atomic.Int64
}

func normalizeBucketName(raw string) (string, error) {
	bucket := strings.TrimSpace(raw)
	if bucket == "" {
		return "", fmt.Errorf("s3 bucket not configured")
	}
	return bucket, nil
}

// NewArchive builds an archive backed by the configured S3 bucket.
func NewArchive(cfg *appconfig.Config, records <-chan models.SignalRecord) (*Archive, error) {
	if !cfg.Storage.S3.Enabled {
		return nil, fmt.Errorf("s3 storage disabled")
	}

	ctx := context.Background()
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	return newArchive(cfg, records, s3Client)
}

func newArchive(cfg *appconfig.Config, records <-chan models.SignalRecord, client ObjectPutter) (*Archive, error) {
	if records == nil {
		return nil, fmt.Errorf("nil record channel provided")
	}
	bucket, err := normalizeBucketName(cfg.Storage.S3.Bucket)
	if err != nil {
		return nil, err
	}

	metaDir := cfg.Storage.S3.ManifestDir
	if metaDir == "" {
		if metaDir, err = os.MkdirTemp("", "signal-metadata"); err != nil {
			return nil, fmt.Errorf("create metadata dir: %w", err)
		}
	}
	location := fmt.Sprintf("s3://%s/%s", bucket, archivePrefix(cfg))
	meta := metadata.NewGenerator(metaDir, location, cfg.App.Name+"_signals", "date", "hour")

	maxBuffer := cfg.Writer.Buffer.MaxSize
	if maxBuffer <= 0 {
		maxBuffer = 600
	}

	workers := cfg.Writer.MaxWorkers
	if workers <= 0 {
		workers = 2
	}

	return &Archive{
		cfg:       cfg,
		records:   records,
		s3Client:  client,
		bucket:    bucket,
		metaGen:   meta,
		wg:        &sync.WaitGroup{},
		workerWg:  &sync.WaitGroup{},
		log:       logger.GetLogger(),
		maxBuffer: maxBuffer,
		jobCh:     make(chan archiveBatch, workers*4),
	}, nil
}

func archivePrefix(cfg *appconfig.Config) string {
	prefix := strings.Trim(cfg.Storage.S3.Prefix, "/")
	if prefix == "" {
		prefix = "signals"
	}
	return prefix
}

// Start begins consuming records.
func (w *Archive) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	interval := w.cfg.Writer.Buffer.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.buffer = nil
	w.flushTicker = time.NewTicker(interval)
	w.mu.Unlock()

	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"bucket":         w.bucket,
		"prefix":         archivePrefix(w.cfg),
		"flush_interval": interval,
		"max_buffer":     w.maxBuffer,
	}).Info("starting archive writer")

	w.wg.Add(2)
	go w.ingest()
	go w.flushLoop()

	workers := w.cfg.Writer.MaxWorkers
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		w.workerWg.Add(1)
		go w.uploadWorker()
	}
	return nil
}

// Stop flushes buffered records, waits for uploads and returns.
func (w *Archive) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	ticker := w.flushTicker
	w.mu.Unlock()

	cancel()
	ticker.Stop()
	w.wg.Wait()

	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()
	for _, batch := range pending {
		w.jobCh <- batch
	}
	w.flush("shutdown", true)
	close(w.jobCh)
	w.workerWg.Wait()

	metrics.ReportWriter(w.log, "archive_writer", w.GetStats())
	w.log.WithComponent("archive_writer").Info("archive writer stopped")
}

func (w *Archive) ingest() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drainPending()
			return
		case rec, ok := <-w.records:
			if !ok {
				return
			}
			w.addRecord(rec)
		}
	}
}

func (w *Archive) drainPending() {
	for {
		select {
		case rec, ok := <-w.records:
			if !ok {
				return
			}
			w.addRecord(rec)
		default:
			return
		}
	}
}

func (w *Archive) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush("interval", false)
		}
	}
}

func (w *Archive) uploadWorker() {
	defer w.workerWg.Done()
	for batch := range w.jobCh {
		w.processBatch(batch)
	}
}

func hourOf(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Hour)
}

// addRecord appends to the open batch. A full batch or an hour change closes
// the current batch first so each file stays inside one partition.
func (w *Archive) addRecord(rec models.SignalRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var (
		flushed []models.SignalRecord
		reason  string
	)
	w.mu.Lock()
	if n := len(w.buffer); n > 0 && !hourOf(w.buffer[n-1].Timestamp).Equal(hourOf(rec.Timestamp)) {
		flushed, reason = w.buffer, "hour_rollover"
		w.buffer = nil
	}
	w.buffer = append(w.buffer, rec)
	if flushed == nil && len(w.buffer) >= w.maxBuffer {
		flushed, reason = w.buffer, "max_buffer"
		w.buffer = nil
	}
	w.mu.Unlock()

	if len(flushed) > 0 {
		w.enqueueBatch(flushed, reason, false)
	}
}

func (w *Archive) flush(reason string, final bool) {
	w.mu.Lock()
	entries := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(entries) > 0 {
		w.enqueueBatch(entries, reason, final)
	}
}

// enqueueBatch hands a batch to the upload workers. Outside shutdown a
// cancelled context parks the batch for Stop.
func (w *Archive) enqueueBatch(entries []models.SignalRecord, reason string, final bool) {
	batch := archiveBatch{
		Records:   entries,
		Timestamp: entries[0].Timestamp,
		Reason:    reason,
	}
	if final {
		w.jobCh <- batch
		return
	}
	select {
	case w.jobCh <- batch:
	case <-w.ctx.Done():
		w.mu.Lock()
		w.pending = append(w.pending, batch)
		w.mu.Unlock()
	}
}

func (w *Archive) processBatch(batch archiveBatch) {
	entryLog := w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"record_count": len(batch.Records),
		"reason":       batch.Reason,
	})

	key := w.generateS3Key(batch)
	data, size, err := w.createParquet(batch)
	if err != nil {
		w.errorsCount.Add(1)
		metrics.IncrementWriterError("archive")
		entryLog.WithError(err).Error("failed to create signal parquet")
		return
	}

	if err := w.uploadToS3(key, data); err != nil {
		w.errorsCount.Add(1)
		metrics.IncrementWriterError("archive")
		entryLog.WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to upload signal parquet")
		return
	}

	w.recordsWritten.Add(int64(len(batch.Records)))
	w.filesWritten.Add(1)
	w.bytesWritten.Add(size)
	logger.IncrementArchiveUpload(size)

	hour := hourOf(batch.Timestamp)
	df := metadata.DataFile{
		Path:        fmt.Sprintf("s3://%s/%s", w.bucket, key),
		FileSize:    size,
		RecordCount: int64(len(batch.Records)),
		Partition: map[string]any{
			"date": hour.Format("2006-01-02"),
			"hour": hour.Hour(),
		},
		Timestamp: batch.Timestamp,
	}
	if err := w.metaGen.AddFile(df); err != nil {
		entryLog.WithError(err).Warn("failed to update archive metadata")
	}

	entryLog.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": size,
	}).Info("signal batch uploaded")
}

func (w *Archive) createParquet(batch archiveBatch) ([]byte, int64, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(signalParquetRecord), 1)
	if err != nil {
		return nil, 0, fmt.Errorf("new parquet writer: %w", err)
	}

	switch strings.ToLower(w.cfg.Writer.Formats.Parquet.Compression) {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, rec := range batch.Records {
		if err := pw.Write(toParquetRecord(rec)); err != nil {
			pw.WriteStop()
			return nil, 0, fmt.Errorf("write signal record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("finalize signal parquet: %w", err)
	}

	data := mem.Bytes()
	return data, int64(len(data)), nil
}

func (w *Archive) generateS3Key(batch archiveBatch) string {
	hour := hourOf(batch.Timestamp)
	filename := fmt.Sprintf("signals_%s_%s.parquet",
		time.Now().UTC().Format("20060102150405"),
		uuid.NewString(),
	)
	return path.Join(
		archivePrefix(w.cfg),
		fmt.Sprintf("date=%s", hour.Format("2006-01-02")),
		fmt.Sprintf("hour=%02d", hour.Hour()),
		filename,
	)
}

func (w *Archive) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       w.cfg.Writer.Formats.Parquet.Compression,
			"scalpflow-version": w.cfg.App.Version,
		},
	}

	// uploads outlive the run context so the shutdown flush still lands
	ctx, cancel := context.WithTimeout(context.Background(), defaultUploadTimeout)
	defer cancel()
	if _, err := w.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("upload signal parquet: %w", err)
	}
	return nil
}

// GetStats returns the archive counters.
func (w *Archive) GetStats() metrics.WriterStats {
	return metrics.WriterStats{
		RecordsWritten: w.recordsWritten.Load(),
		FilesWritten:   w.filesWritten.Load(),
		BytesWritten:   w.bytesWritten.Load(),
		ErrorsCount:    w.errorsCount.Load(),
		QueueLen:       len(w.jobCh),
		QueueCap:       cap(w.jobCh),
	}
}
