package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"scalpflow/config"
	"scalpflow/internal/channel"
	"scalpflow/internal/models"
	"scalpflow/logger"
)

func TestHandlerExposesEngineCounters(t *testing.T) {
	IncrementTick("SPOT")
	ObserveEvaluation("WAIT", time.Millisecond)
	IncrementSignalChange("WAIT", "BUY_CALL")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{
		`scalpflow_ticks_total{source="SPOT"}`,
		`scalpflow_signals_total{signal="WAIT"}`,
		`scalpflow_signal_changes_total{from="WAIT",to="BUY_CALL"}`,
		"scalpflow_evaluation_seconds_bucket",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestEmitDropMetricCountsTicks(t *testing.T) {
	before := testutil.ToFloat64(ticksDropped.WithLabelValues("CALL"))
	EmitDropMetric(logger.GetLogger(), DropMetricTick, "CALL", "NIFTY26DEC2425000CE", "ingest")
	EmitDropMetric(logger.GetLogger(), DropMetricRecord, "", "", "archive")

	if got := testutil.ToFloat64(ticksDropped.WithLabelValues("CALL")); got != before+1 {
		t.Fatalf("expected tick drop counter %v, got %v", before+1, got)
	}
}

func TestIsFeatureEnabled(t *testing.T) {
	Configure(config.MetricsConfig{ChannelSize: true, Latency: false})
	t.Cleanup(func() { Configure(config.MetricsConfig{ChannelSize: true, Latency: true}) })

	if !IsFeatureEnabled(FeatureChannelSize) {
		t.Fatalf("channel size should be enabled")
	}
	if IsFeatureEnabled(FeatureLatency) {
		t.Fatalf("latency should be disabled")
	}
}

func TestStartChannelSizeMetrics(t *testing.T) {
	resetMetricHandlers()
	Configure(config.MetricsConfig{ChannelSize: true, Latency: true})

	events := make(chan Metric, 16)
	id := RegisterMetricHandler(func(m Metric) {
		select {
		case events <- m:
		default:
		}
	})
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	chs := channel.NewChannels(config.ChannelsConfig{TickBuffer: 4, RecordBuffer: 2})
	defer chs.Close()
	chs.Ticks.SendTick(context.Background(), models.Tick{Source: models.SourceSpot})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartChannelSizeMetrics(ctx, chs, 5*time.Millisecond)

	select {
	case m := <-events:
		if m.Name != "tick_buffer_length" || m.Value != 1 {
			t.Fatalf("unexpected metric: %+v", m)
		}
		if m.Fields["capacity"] != 4 {
			t.Fatalf("unexpected capacity: %v", m.Fields)
		}
	case <-time.After(time.Second):
		t.Fatal("channel size metric not emitted")
	}
}

func TestReportWriterAndProcessor(t *testing.T) {
	resetMetricHandlers()
	var names []string
	id := RegisterMetricHandler(func(m Metric) { names = append(names, m.Name) })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	ReportWriter(nil, "journal", WriterStats{RecordsWritten: 4, ErrorsCount: 1})
	ReportProcessor(nil, ProcessorStats{TicksApplied: 10, Evaluations: 3, LatencyMS: 40})

	want := map[string]bool{"records_written": false, "error_rate": false, "ticks_applied": false, "feed_latency_ms": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("metric %s not emitted", n)
		}
	}
}
