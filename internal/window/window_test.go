package window

import (
	"errors"
	"math"
	"testing"

	"fracture-monitor/internal/models"
)

func TestRolling_Add(t *testing.T) {
	r := NewRolling(5)

	values := []float64{10, 20, 30, 40, 50}
	for _, v := range values {
		r.Add(v)
	}

	if r.Count() != 5 {
		t.Errorf("Expected count 5, got %d", r.Count())
	}

	expectedMean := 30.0
	if math.Abs(r.Mean()-expectedMean) > 0.001 {
		t.Errorf("Expected mean %.2f, got %.2f", expectedMean, r.Mean())
	}
}

func TestRolling_EvictsOldest(t *testing.T) {
	r := NewRolling(3)

	r.Add(10)
	r.Add(20)
	r.Add(30)

	if math.Abs(r.Mean()-20.0) > 0.001 {
		t.Errorf("Expected mean 20, got %.2f", r.Mean())
	}

	// Adding a fourth value should push out 10
	r.Add(40)

	if math.Abs(r.Mean()-30.0) > 0.001 {
		t.Errorf("Expected mean 30 after eviction, got %.2f", r.Mean())
	}
}

func TestRolling_StdDev(t *testing.T) {
	r := NewRolling(5)

	// Identical values - std must be 0
	for i := 0; i < 5; i++ {
		r.Add(50)
	}
	if r.Std() != 0 {
		t.Errorf("Expected std 0 for identical values, got %.4f", r.Std())
	}

	r2 := NewRolling(5)
	for _, v := range []float64{2, 4, 4, 4, 5} {
		r2.Add(v)
	}

	// Sample std of [2,4,4,4,5] is ~1.095
	if math.Abs(r2.Std()-1.0954) > 0.01 {
		t.Errorf("Expected std ~1.095, got %.4f", r2.Std())
	}
}

func TestRolling_ValuesOrder(t *testing.T) {
	r := NewRolling(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.Add(v)
	}

	got := r.Values()
	want := []float64{3, 4, 5}

	if len(got) != len(want) {
		t.Fatalf("Expected %d values, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Values()[%d] = %.0f, want %.0f", i, got[i], want[i])
		}
	}

	if r.Last() != 5 {
		t.Errorf("Last() = %.0f, want 5", r.Last())
	}
}

func TestWindow_AppendAndSeries(t *testing.T) {
	w := New(4, 0)

	for i := 0; i < 6; i++ {
		err := w.Append(uint64(i+1), map[string]float64{
			"heartRate": float64(60 + i),
			"attention": float64(i) * 0.1,
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	hr := w.Series("heartRate")
	if len(hr) != 4 {
		t.Fatalf("Expected 4 values after eviction, got %d", len(hr))
	}
	if hr[0] != 62 || hr[3] != 65 {
		t.Errorf("Series order wrong: got %v", hr)
	}

	if w.LastTimestamp() != 6 {
		t.Errorf("LastTimestamp = %d, want 6", w.LastTimestamp())
	}
	if w.Samples() != 6 {
		t.Errorf("Samples = %d, want 6", w.Samples())
	}
}

func TestWindow_RejectsOutOfOrder(t *testing.T) {
	w := New(8, 0)

	if err := w.Append(100, map[string]float64{"price": 1.0}); err != nil {
		t.Fatalf("First append failed: %v", err)
	}

	// Equal timestamp must be rejected
	err := w.Append(100, map[string]float64{"price": 2.0})
	if !errors.Is(err, models.ErrOutOfOrderSample) {
		t.Errorf("Expected ErrOutOfOrderSample for equal ts, got %v", err)
	}

	// Older timestamp must be rejected
	err = w.Append(99, map[string]float64{"price": 3.0})
	if !errors.Is(err, models.ErrOutOfOrderSample) {
		t.Errorf("Expected ErrOutOfOrderSample for older ts, got %v", err)
	}

	// Window must be unaffected by rejected samples
	if w.Len("price") != 1 {
		t.Errorf("Window changed by rejected sample: len %d", w.Len("price"))
	}
}

func TestWindow_RejectsNonFinite(t *testing.T) {
	w := New(8, 0)

	cases := []float64{math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, bad := range cases {
		err := w.Append(10, map[string]float64{"good": 1.0, "bad": bad})
		if !errors.Is(err, models.ErrInvalidSample) {
			t.Errorf("Expected ErrInvalidSample for %v, got %v", bad, err)
		}
	}

	// The whole sample is dropped, including the good channel
	if w.Len("good") != 0 {
		t.Errorf("Good channel stored from invalid sample: len %d", w.Len("good"))
	}

	// Timestamp ordering must not advance on rejection
	if err := w.Append(10, map[string]float64{"good": 1.0}); err != nil {
		t.Errorf("Valid sample after rejection failed: %v", err)
	}
}

func TestWindow_RangeLimit(t *testing.T) {
	w := New(8, 1000)

	err := w.Append(1, map[string]float64{"price": 5000})
	if !errors.Is(err, models.ErrInvalidSample) {
		t.Errorf("Expected ErrInvalidSample for out-of-range value, got %v", err)
	}

	if err := w.Append(1, map[string]float64{"price": 999}); err != nil {
		t.Errorf("In-range value rejected: %v", err)
	}
}

func TestWindow_Reset(t *testing.T) {
	w := New(4, 0)
	if err := w.Append(50, map[string]float64{"x": 1}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	w.Reset()

	if w.Len("x") != 0 {
		t.Errorf("Reset did not clear channels")
	}

	// After reset older timestamps are acceptable again (new session)
	if err := w.Append(10, map[string]float64{"x": 2}); err != nil {
		t.Errorf("Append after reset failed: %v", err)
	}
}

func BenchmarkRollingAdd(b *testing.B) {
	r := NewRolling(50)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Add(float64(i % 100))
	}
}

func BenchmarkWindowAppend(b *testing.B) {
	w := New(50, 0)
	sample := map[string]float64{"heartRate": 72, "hrv": 48, "attention": 0.8}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.Append(uint64(i+1), sample)
	}
}
