package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	evaluations    int64
	signalChanges  int64
	journalWrites  int64
	archiveUploads int64
	warnCounts     sync.Map // map[string]*int64 keyed by component
	errorCounts    sync.Map // map[string]*int64 keyed by component
	ticksApplied   sync.Map // map[string]*int64 keyed by source
	channels       sync.Map // map[string]*channelStat
)

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func sum(m *sync.Map) (map[string]int64, int64) {
	out := map[string]int64{}
	var total int64
	m.Range(func(k, v any) bool {
		n := atomic.LoadInt64(v.(*int64))
		out[k.(string)] = n
		total += n
		return true
	})
	return out, total
}

func recordWarn(component string) {
	bump(&warnCounts, component)
}

func recordError(component string) {
	bump(&errorCounts, component)
}

// IncrementTickApplied counts a tick accepted into engine state.
func IncrementTickApplied(source string) {
	bump(&ticksApplied, source)
}

// IncrementEvaluation counts one evaluation cycle.
func IncrementEvaluation() {
	atomic.AddInt64(&evaluations, 1)
}

// IncrementSignalChange counts a transition between resolved signals.
func IncrementSignalChange() {
	atomic.AddInt64(&signalChanges, 1)
}

// IncrementJournalWrite counts a trade journal row.
func IncrementJournalWrite() {
	atomic.AddInt64(&journalWrites, 1)
}

// IncrementArchiveUpload counts an archive file uploaded to S3.
func IncrementArchiveUpload(size int64) {
	atomic.AddInt64(&archiveUploads, 1)
	recordChannel("s3_archive_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of runtime and engine statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPct := 0.0
	if samples, err := cpu.Percent(0, false); err == nil && len(samples) > 0 {
		cpuPct = samples[0]
	}
	memUsedMB := 0.0
	if stats, err := mem.VirtualMemory(); err == nil {
		memUsedMB = float64(stats.Used) / 1024 / 1024
	}

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	warns, totalWarns := sum(&warnCounts)
	errs, totalErrs := sum(&errorCounts)
	ticks, totalTicks := sum(&ticksApplied)

	fields := Fields{
		"evaluations":     atomic.LoadInt64(&evaluations),
		"signal_changes":  atomic.LoadInt64(&signalChanges),
		"journal_writes":  atomic.LoadInt64(&journalWrites),
		"archive_uploads": atomic.LoadInt64(&archiveUploads),
		"ticks_applied":   ticks,
		"warns":           warns,
		"errors":          errs,
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memUsedMB),
		"channels":        channelData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	publishMetrics(ctx, []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memUsedMB)},
		{MetricName: aws.String("Evaluations"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&evaluations)))},
		{MetricName: aws.String("SignalChanges"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&signalChanges)))},
		{MetricName: aws.String("JournalWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&journalWrites)))},
		{MetricName: aws.String("TicksApplied"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(totalTicks))},
		{MetricName: aws.String("Warnings"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(totalWarns))},
		{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(totalErrs))},
	})
}
