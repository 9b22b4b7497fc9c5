package metrics

import (
	"bytes"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCounterIsMonotonic(t *testing.T) {
	c := NewCounter("witness.steps")
	for _, op := range []struct {
		add  int64
		want int64
	}{
		{1, 1},
		{40, 41},
		{-7, 41},
		{0, 41},
	} {
		c.Add(op.add)
		if got := c.Value(); got != op.want {
			t.Fatalf("after Add(%d): %d, want %d", op.add, got, op.want)
		}
	}
	c.Inc()
	if c.Value() != 42 || c.Name() != "witness.steps" {
		t.Fatalf("counter %s = %d", c.Name(), c.Value())
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("rw.rows")
	g.Set(5)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 4 {
		t.Fatalf("gauge = %d, want 4", g.Value())
	}
	g.Set(-3)
	if g.Value() != -3 {
		t.Fatalf("gauge = %d, want -3", g.Value())
	}

	g.Set(0)
	for _, v := range []int64{10, 4, 11, 2} {
		g.Max(v)
	}
	if g.Value() != 11 {
		t.Fatalf("high-water mark = %d, want 11", g.Value())
	}
}

func TestHistogramSummary(t *testing.T) {
	h := NewHistogram("evm.rw_per_step")
	if h.Count() != 0 || h.Min() != 0 || h.Max() != 0 || h.Mean() != 0 {
		t.Fatal("empty histogram reports observations")
	}
	for _, v := range []float64{3, 17, 1} {
		h.Observe(v)
	}
	got := [...]float64{float64(h.Count()), h.Sum(), h.Min(), h.Max(), h.Mean()}
	want := [...]float64{3, 21, 1, 17, 7}
	if got != want {
		t.Fatalf("count/sum/min/max/mean = %v, want %v", got, want)
	}
}

func TestHistogram_Buckets(t *testing.T) {
	h := NewHistogram("test.buckets")
	if len(h.Buckets()) != 0 {
		t.Fatal("empty histogram has buckets")
	}
	for _, v := range []float64{0.5, 1, 3, 3, 1000} {
		h.Observe(v)
	}
	got := h.Buckets()
	// 1000 falls in [512, 1024), bucket 10.
	if len(got) != 11 {
		t.Fatalf("buckets = %d, want 11", len(got))
	}
	want := map[int]int64{0: 1, 1: 2, 2: 4, 9: 4, 10: 5}
	for k, n := range want {
		if got[k] != n {
			t.Fatalf("bucket %d (le %g) = %d, want %d", k, BucketBound(k), got[k], n)
		}
	}
	if b := bucketOf(math.Exp2(70)); b != numBuckets-1 {
		t.Fatalf("huge value in bucket %d", b)
	}
	if !math.IsInf(BucketBound(numBuckets-1), 1) {
		t.Fatal("last bucket is bounded")
	}
}

func TestTimerRecordsMicroseconds(t *testing.T) {
	h := NewHistogram("witness.generate_us")
	tm := NewTimer(h)
	time.Sleep(2 * time.Millisecond)
	if d := tm.Stop(); d < 2*time.Millisecond {
		t.Fatalf("elapsed %v", d)
	}
	if h.Count() != 1 || h.Max() < 2000 {
		t.Fatalf("observed count=%d max=%g", h.Count(), h.Max())
	}
	NewTimer(nil).Stop()
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Counter("c") != r.Counter("c") || r.Gauge("g") != r.Gauge("g") || r.Histogram("h") != r.Histogram("h") {
		t.Fatal("registry returned a fresh metric for a known name")
	}
	r.Counter("c").Add(5)
	r.Gauge("g").Set(42)
	r.Histogram("h").Observe(10)
	r.Histogram("h").Observe(20)

	snap := r.Snapshot()
	if snap["c"] != int64(5) || snap["g"] != int64(42) {
		t.Fatalf("snapshot = %v", snap)
	}
	hm, ok := snap["h"].(map[string]any)
	if !ok {
		t.Fatalf("histogram snapshot = %T", snap["h"])
	}
	for k, want := range map[string]any{"count": int64(2), "sum": 30.0, "min": 10.0, "max": 20.0, "mean": 15.0} {
		if hm[k] != want {
			t.Errorf("histogram %s = %v, want %v", k, hm[k], want)
		}
	}
}

func TestConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	const workers, n = 32, 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				r.Counter("steps").Inc()
				r.Gauge("rows").Max(int64(w*n + i))
				r.Histogram("rw").Observe(float64(i))
			}
		}(w)
	}
	wg.Wait()

	if got := r.Counter("steps").Value(); got != workers*n {
		t.Fatalf("counter = %d, want %d", got, workers*n)
	}
	if got := r.Gauge("rows").Value(); got != workers*n-1 {
		t.Fatalf("gauge = %d, want %d", got, workers*n-1)
	}
	if got := r.Histogram("rw").Count(); got != workers*n {
		t.Fatalf("histogram count = %d", got)
	}
}

func TestStandardMetrics(t *testing.T) {
	before := StepsVerified.Value()
	StepsVerified.Inc()
	if StepsVerified.Value() != before+1 {
		t.Fatalf("StepsVerified = %d, want %d", StepsVerified.Value(), before+1)
	}
	c := StepsByState("ADD")
	if c != DefaultRegistry.Counter("evm.steps.ADD") {
		t.Fatal("StepsByState returned an unregistered counter")
	}
	RWPerStep.Observe(3)
	if RWPerStep.Count() == 0 {
		t.Fatal("RWPerStep did not record")
	}
}

func TestWriteText(t *testing.T) {
	r := NewRegistry()
	r.Counter("evm.steps").Add(7)
	r.Gauge("rw.rows").Set(42)
	h := r.Histogram("evm.rw-per-step")
	h.Observe(1)
	h.Observe(3)

	var buf bytes.Buffer
	if err := WriteText(&buf, r, "zkevm"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE zkevm_evm_steps counter\n",
		"zkevm_evm_steps 7\n",
		"zkevm_rw_rows 42\n",
		"zkevm_evm_rw_per_step_count 2\n",
		"zkevm_evm_rw_per_step_sum 4\n",
		"# TYPE zkevm_evm_rw_per_step histogram\n",
		"zkevm_evm_rw_per_step_bucket{le=\"2\"} 1\n",
		"zkevm_evm_rw_per_step_bucket{le=\"4\"} 2\n",
		"zkevm_evm_rw_per_step_bucket{le=\"+Inf\"} 2\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "zkevm_evm_steps 7") > strings.Index(out, "zkevm_rw_rows 42") {
		t.Error("counters should precede gauges")
	}
}

func TestFormatFloat(t *testing.T) {
	cases := map[float64]string{
		1.5:          "1.5",
		math.Inf(1):  "+Inf",
		math.Inf(-1): "-Inf",
	}
	for v, want := range cases {
		if got := formatFloat(v); got != want {
			t.Errorf("formatFloat(%v) = %q, want %q", v, got, want)
		}
	}
	if got := formatFloat(math.NaN()); got != "NaN" {
		t.Errorf("formatFloat(NaN) = %q", got)
	}
}
