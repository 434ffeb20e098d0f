package metrics

import (
	"runtime"
	"sync"
	"testing"
)

func TestBasicProvider_ReusesInstrumentByName(t *testing.T) {
	p := NewBasicProvider()

	c1 := p.Counter(TasksSubmittedTotal)
	c2 := p.Counter(TasksSubmittedTotal)
	c1.Add(3)
	c2.Add(2)
	if got := p.CounterValue(TasksSubmittedTotal); got != 5 {
		t.Fatalf("%s = %d; want 5", TasksSubmittedTotal, got)
	}
	if got := p.CounterValue(TasksExecutedTotal); got != 0 {
		t.Fatalf("an instrument never requested should read 0, got %d", got)
	}
}

func TestBasicProvider_ReadyQueueDepthTracksUpAndDown(t *testing.T) {
	p := NewBasicProvider()
	depth := p.UpDownCounter(ReadyQueueDepth)

	depth.Add(1)
	depth.Add(1)
	depth.Add(-1)
	if got := p.UpDownValue(ReadyQueueDepth); got != 1 {
		t.Fatalf("%s = %d; want 1", ReadyQueueDepth, got)
	}
}

func TestBasicProvider_TaskRunSecondsRecordsDistribution(t *testing.T) {
	p := NewBasicProvider()
	h := p.Histogram(TaskRunSeconds)

	h.Record(0.1)
	h.Record(0.3)
	h.Record(0.2)

	snap := p.HistogramSnapshot(TaskRunSeconds)
	if snap.Count != 3 {
		t.Fatalf("count = %d; want 3", snap.Count)
	}
	if snap.Min != 0.1 || snap.Max != 0.3 {
		t.Fatalf("min/max = (%v,%v); want (0.1,0.3)", snap.Min, snap.Max)
	}
	if snap.Mean < 0.19 || snap.Mean > 0.21 {
		t.Fatalf("mean = %v; want ~0.2", snap.Mean)
	}
}

func TestBasicProvider_ConcurrentCounterAddIsAccurate(t *testing.T) {
	p := NewBasicProvider()
	c := p.Counter(TasksExecutedTotal)

	workers := runtime.NumCPU() * 2
	iters := 1000
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				c.Add(1)
			}
		}()
	}
	wg.Wait()

	want := int64(workers * iters)
	if got := p.CounterValue(TasksExecutedTotal); got != want {
		t.Fatalf("%s = %d; want %d", TasksExecutedTotal, got, want)
	}
}

func TestBasicProvider_ConcurrentGetReturnsSharedInstrument(t *testing.T) {
	p := NewBasicProvider()
	n := 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			p.Counter(ReadyQueueDepth + "_shared_probe").Add(1)
		}()
	}
	wg.Wait()

	if got := p.CounterValue(ReadyQueueDepth + "_shared_probe"); got != int64(n) {
		t.Fatalf("expected every goroutine to share one counter instance, got total %d", got)
	}
}

func TestNoopProvider_DiscardsEverything(t *testing.T) {
	p := NewNoopProvider()
	p.Counter(TasksSubmittedTotal).Add(100)
	p.UpDownCounter(ReadyQueueDepth).Add(100)
	p.Histogram(TaskRunSeconds).Record(100)
	// Nothing to assert: NoopProvider exposes no introspection, by design
	// (it is Processor's zero-configuration default).
}
