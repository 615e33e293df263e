package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	kafka "github.com/segmentio/kafka-go"

	appconfig "scalpflow/config"
	"scalpflow/internal/metrics"
	"scalpflow/internal/models"
	"scalpflow/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes every signal record as JSON keyed by the ATM strike.
type KafkaWriter struct {
	config  *appconfig.Config
	records <-chan models.SignalRecord
	writer  messageWriter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	written atomic.Int64
	errors  atomic.Int64
}

func NewKafkaWriter(cfg *appconfig.Config, records <-chan models.SignalRecord) (*KafkaWriter, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Kafka.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	kw := newKafkaWriter(cfg, records, &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	})
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Kafka.Brokers,
		"topic":   cfg.Kafka.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func newKafkaWriter(cfg *appconfig.Config, records <-chan models.SignalRecord, w messageWriter) *KafkaWriter {
	return &KafkaWriter{
		config:  cfg,
		records: records,
		writer:  w,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx, kw.cancel = context.WithCancel(ctx)
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	return nil
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	for {
		select {
		case <-kw.ctx.Done():
			return
		case rec, ok := <-kw.records:
			if !ok {
				return
			}
			kw.publish(rec)
		}
	}
}

func (kw *KafkaWriter) publish(rec models.SignalRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		kw.errors.Add(1)
		kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to marshal record")
		return
	}
	key := "none"
	if strike, ok := rec.ATMStrike.Get(); ok {
		key = fmt.Sprintf("%d", strike)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  rec.Timestamp,
	}
	if err := kw.writer.WriteMessages(kw.ctx, msg); err != nil {
		kw.errors.Add(1)
		metrics.IncrementWriterError("kafka")
		kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to write message")
		return
	}
	kw.written.Add(1)
	logger.RecordChannelMessage("kafka_signals", len(data))
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"signal": rec.Signal,
		"key":    key,
	}).Debug("record written to kafka")
}

func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	if !kw.running {
		kw.mu.Unlock()
		return
	}
	kw.running = false
	cancel := kw.cancel
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	cancel()
	kw.wg.Wait()
	if err := kw.writer.Close(); err != nil {
		kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to close kafka writer")
	}
	metrics.ReportWriter(kw.log, "kafka_writer", kw.GetStats())
	kw.log.WithComponent("kafka_writer").Debug("kafka writer stopped")
}

// GetStats returns the publish counters.
func (kw *KafkaWriter) GetStats() metrics.WriterStats {
	return metrics.WriterStats{
		RecordsWritten: kw.written.Load(),
		ErrorsCount:    kw.errors.Load(),
	}
}
