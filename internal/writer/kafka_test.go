package writer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "scalpflow/config"
	"scalpflow/internal/models"
)

type fakeKafka struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeKafka) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestNewKafkaWriterRequiresBrokers(t *testing.T) {
	cfg := appconfig.Default()
	if _, err := NewKafkaWriter(&cfg, make(chan models.SignalRecord)); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestKafkaWriterPublishesRecords(t *testing.T) {
	cfg := appconfig.Default()
	records := make(chan models.SignalRecord, 4)
	fake := &fakeKafka{}
	kw := newKafkaWriter(&cfg, records, fake)

	if err := kw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := kw.Start(context.Background()); err == nil {
		t.Fatal("expected error on second Start")
	}

	ts := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	records <- sampleRecord(ts)
	records <- models.SignalRecord{Timestamp: ts.Add(time.Second), Signal: models.SignalWait}
	waitFor(t, func() bool { return fake.count() == 2 })
	kw.Stop()

	if !fake.closed {
		t.Fatal("writer not closed on Stop")
	}
	if string(fake.msgs[0].Key) != "25000" || string(fake.msgs[1].Key) != "none" {
		t.Fatalf("unexpected keys %q %q", fake.msgs[0].Key, fake.msgs[1].Key)
	}
	var decoded map[string]any
	if err := json.Unmarshal(fake.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if decoded["signal"] != "BUY_CALL" || decoded["rsi"] != nil {
		t.Fatalf("unexpected payload: %v", decoded)
	}
	if stats := kw.GetStats(); stats.RecordsWritten != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestKafkaWriterCountsErrors(t *testing.T) {
	cfg := appconfig.Default()
	records := make(chan models.SignalRecord, 1)
	kw := newKafkaWriter(&cfg, records, &fakeKafka{fail: true})
	if err := kw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	records <- sampleRecord(time.Now())
	waitFor(t, func() bool { return kw.GetStats().ErrorsCount == 1 })
	kw.Stop()
}
