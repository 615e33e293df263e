package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"scalpflow/logger"
)

func stubCollectors(t *testing.T, cpuErr error) *atomic.Int32 {
	t.Helper()
	originalCPU := cpuPercentFn
	originalMem := memoryStatsFn
	originalDisk := diskUsageFn
	originalRSS := processRSSFn
	t.Cleanup(func() {
		cpuPercentFn = originalCPU
		memoryStatsFn = originalMem
		diskUsageFn = originalDisk
		processRSSFn = originalRSS
	})

	calls := &atomic.Int32{}
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		calls.Add(1)
		if cpuErr != nil {
			return nil, cpuErr
		}
		return []float64{42.5}, nil
	}
	memoryStatsFn = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 1024, Total: 2048, UsedPercent: 50}, nil
	}
	diskUsageFn = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Used: 4096, Total: 8192, UsedPercent: 50}, nil
	}
	processRSSFn = func(ctx context.Context) (uint64, error) {
		return 512, nil
	}
	return calls
}

func TestResourceSamplerCollectsSamples(t *testing.T) {
	calls := stubCollectors(t, nil)
	sampler := newResourceSampler(3, 10*time.Millisecond, "/", logger.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sampler.start(ctx)

	deadline := time.Now().Add(time.Second)
	for len(sampler.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("resource sampler did not collect samples in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	sampler.stop()

	snapshots := sampler.snapshot()
	if len(snapshots) == 0 || len(snapshots) > 3 {
		t.Fatalf("expected between 1 and 3 snapshots, got %d", len(snapshots))
	}

	latest := snapshots[len(snapshots)-1]
	if latest.CPUPercent != 42.5 || latest.MemoryPct != 50 || latest.DiskPct != 50 || latest.ProcessRSS != 512 {
		t.Fatalf("unexpected snapshot data: %#v", latest)
	}
	if latest.Goroutines <= 0 {
		t.Fatalf("expected goroutine count, got %d", latest.Goroutines)
	}
	if calls.Load() == 0 {
		t.Fatal("expected cpu sampler to be invoked")
	}
}

func TestResourceSamplerBacksOffOnError(t *testing.T) {
	calls := stubCollectors(t, errors.New("cpu unavailable"))
	sampler := newResourceSampler(3, 50*time.Millisecond, "/", logger.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	sampler.start(ctx)
	time.Sleep(120 * time.Millisecond)
	cancel()
	sampler.stop()

	if len(sampler.snapshot()) != 0 {
		t.Fatal("failed samples must not be stored")
	}
	if n := calls.Load(); n == 0 || n > 5 {
		t.Fatalf("expected a few retries, got %d", n)
	}
}
