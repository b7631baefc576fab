package scoring

import (
	"testing"

	"fracture-monitor/internal/config"
	"fracture-monitor/internal/models"
)

func testWeights() config.Weights {
	return config.Weights{
		SlopeDelta: 1.0,
		Autocorr:   0.8,
		Skewness:   0.5,
		Wavelet:    0.3,
		Fractal:    0.3,
	}
}

func TestCompute_MonotoneInAutocorr(t *testing.T) {
	w := testWeights()
	base := models.FeatureSet{SpectralSlopeDelta: -0.4, Skewness: 0.2}

	prev := -1.0
	var prevFI float64
	for _, ac := range []float64{0.0, 0.2, 0.5, 0.8, 1.0} {
		fs := base
		fs.Lag1Autocorr = ac
		fi := Compute(fs, w, 0.2, nil)
		if prev >= 0 && fi < prevFI {
			t.Errorf("FI decreased from %.4f to %.4f as autocorr rose to %.2f", prevFI, fi, ac)
		}
		prev = ac
		prevFI = fi
	}
}

func TestCompute_MonotoneInAbsSkew(t *testing.T) {
	w := testWeights()
	base := models.FeatureSet{Lag1Autocorr: 0.3}

	var prevFI float64
	for i, skew := range []float64{0.0, -0.5, 1.0, -1.5, 2.0} {
		fs := base
		fs.Skewness = skew
		fi := Compute(fs, w, 0.2, nil)
		if i > 0 && fi < prevFI {
			t.Errorf("FI decreased from %.4f to %.4f as |skew| rose to %.2f", prevFI, fi, skew)
		}
		prevFI = fi
	}
}

func TestCompute_NegativeSlopeDeltaRaisesFI(t *testing.T) {
	w := testWeights()

	flat := Compute(models.FeatureSet{SpectralSlopeDelta: 0}, w, 0.2, nil)
	steep := Compute(models.FeatureSet{SpectralSlopeDelta: -1.2}, w, 0.2, nil)

	if steep <= flat {
		t.Errorf("Steepening slope did not raise FI: flat %.4f, steep %.4f", flat, steep)
	}

	// Positive slope delta (flattening spectrum) contributes nothing
	positive := Compute(models.FeatureSet{SpectralSlopeDelta: 1.2}, w, 0.2, nil)
	if positive != flat {
		t.Errorf("Positive slope delta changed FI: %.4f vs %.4f", positive, flat)
	}
}

func TestCompute_InsufficientShortCircuits(t *testing.T) {
	fs := models.FeatureSet{
		Lag1Autocorr: 0.9,
		Skewness:     2.0,
		Insufficient: true,
	}
	if fi := Compute(fs, testWeights(), 0.2, nil); fi != 0 {
		t.Errorf("Insufficient feature set produced FI %.4f, want 0", fi)
	}
}

func TestCompute_NeverNegative(t *testing.T) {
	fs := models.FeatureSet{
		SpectralSlopeDelta: 2.0,
		Lag1Autocorr:       -0.9,
		Skewness:           0,
	}
	if fi := Compute(fs, testWeights(), 0.2, nil); fi != 0 {
		t.Errorf("FI = %.4f, want clamp to 0", fi)
	}
}

func TestCompute_NegativeAutocorrReducesFI(t *testing.T) {
	w := testWeights()

	// Antipersistent series (alternating samples) pulls the index down
	// before the final clamp
	neutral := Compute(models.FeatureSet{Skewness: 1.0, Lag1Autocorr: 0}, w, 0.2, nil)
	reduced := Compute(models.FeatureSet{Skewness: 1.0, Lag1Autocorr: -0.5}, w, 0.2, nil)

	if reduced >= neutral {
		t.Errorf("Negative autocorr did not reduce FI: %.4f vs %.4f", reduced, neutral)
	}

	want := neutral + w.Autocorr*(-0.5)
	if diff := reduced - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Reduced FI = %.6f, want %.6f", reduced, want)
	}
}

func TestCompute_StressAmplification(t *testing.T) {
	w := testWeights()
	fs := models.FeatureSet{Lag1Autocorr: 0.5, Skewness: 1.0}

	plain := Compute(fs, w, 0.2, nil)

	// Stress signal at half its baseline amplifies by 10% (half of the 20% max)
	amplified := Compute(fs, w, 0.2, &Stress{Value: 25, Baseline: 50})
	expected := plain * 1.10
	if diff := amplified - expected; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Amplified FI = %.6f, want %.6f", amplified, expected)
	}

	// Stress above baseline must not amplify
	above := Compute(fs, w, 0.2, &Stress{Value: 80, Baseline: 50})
	if above != plain {
		t.Errorf("Stress above baseline changed FI: %.6f vs %.6f", above, plain)
	}

	// Amplification is capped at amplifyMax even for zero stress value
	capped := Compute(fs, w, 0.2, &Stress{Value: 0, Baseline: 50})
	maxExpected := plain * 1.20
	if capped > maxExpected+1e-9 {
		t.Errorf("Amplification exceeded cap: %.6f > %.6f", capped, maxExpected)
	}
}

func TestTrendFor(t *testing.T) {
	cases := []struct {
		curr, prev float64
		want       models.Trend
	}{
		{1.0, 0.5, models.TrendWorsening},
		{0.5, 1.0, models.TrendImproving},
		{1.0, 1.02, models.TrendStable},
		{1.02, 1.0, models.TrendStable},
	}

	for _, c := range cases {
		if got := TrendFor(c.curr, c.prev, 0.05); got != c.want {
			t.Errorf("TrendFor(%.2f, %.2f) = %s, want %s", c.curr, c.prev, got, c.want)
		}
	}
}

func BenchmarkCompute(b *testing.B) {
	w := testWeights()
	fs := models.FeatureSet{
		SpectralSlopeDelta: -0.5,
		Lag1Autocorr:       0.6,
		Skewness:           1.1,
		WaveletEnergy:      0.3,
		FractalDimension:   1.4,
	}
	stress := &Stress{Value: 40, Baseline: 50}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Compute(fs, w, 0.2, stress)
	}
}
