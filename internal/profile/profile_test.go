package profile

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"fracture-monitor/internal/config"
	"fracture-monitor/internal/models"
)

func testConfig() *config.Domain {
	cfg := config.Default()
	cfg.PatternMemoryCapacity = 5
	cfg.OutcomeWindow = 20
	return &cfg
}

func TestWelford_MatchesDirectComputation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	values := make([]float64, 500)
	for i := range values {
		values[i] = rng.NormFloat64()*17 + 100
	}

	w := &Welford{}
	for _, v := range values {
		w.Add(v)
	}

	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)

	if math.Abs(w.Mean()-mean) > 1e-9 {
		t.Errorf("Welford mean %.12f differs from direct %.12f", w.Mean(), mean)
	}
	if math.Abs(w.Std()-math.Sqrt(variance)) > 1e-9 {
		t.Errorf("Welford std %.12f differs from direct %.12f", w.Std(), math.Sqrt(variance))
	}
}

func TestWelford_RestoreRoundTrip(t *testing.T) {
	w := &Welford{}
	for _, v := range []float64{3, 7, 11, 5, 9} {
		w.Add(v)
	}

	restored := restoreWelford(w.Snapshot())

	if math.Abs(restored.Mean()-w.Mean()) > 1e-9 {
		t.Errorf("Restored mean %.6f, want %.6f", restored.Mean(), w.Mean())
	}
	if math.Abs(restored.Std()-w.Std()) > 1e-9 {
		t.Errorf("Restored std %.6f, want %.6f", restored.Std(), w.Std())
	}
}

func TestProfile_PatternMemoryBounded(t *testing.T) {
	p := NewProfile("e1", testConfig())

	for i := 0; i < 20; i++ {
		p.RecordPattern(models.PatternEntry{Timestamp: uint64(i + 1), FI: float64(i)})
	}

	if p.PatternCount() != 5 {
		t.Fatalf("Pattern memory size %d, want cap 5", p.PatternCount())
	}

	// Oldest entries are evicted first
	if p.patterns[0].Timestamp != 16 {
		t.Errorf("Oldest surviving pattern ts = %d, want 16", p.patterns[0].Timestamp)
	}
}

func TestProfile_FalsePositivesRaiseThreshold(t *testing.T) {
	p := NewProfile("e1", testConfig())

	prev := p.Thresholds().Moderate
	raised := false
	for i := 0; i < 10; i++ {
		p.ApplyOutcome("", models.TierModerate, models.OutcomeFalsePositive)
		curr := p.Thresholds().Moderate
		if curr < prev {
			t.Fatalf("Threshold decreased after false positive: %.4f -> %.4f", prev, curr)
		}
		if curr > prev {
			raised = true
		}
		if !p.cfg.Band.Contains(curr) {
			t.Fatalf("Threshold %.4f escaped safety band", curr)
		}
		prev = curr
	}
	if !raised {
		t.Error("Repeated false positives never raised the threshold")
	}
}

func TestProfile_CrisesLowerThreshold(t *testing.T) {
	p := NewProfile("e1", testConfig())

	before := p.Thresholds().Aggressive
	for i := 0; i < 10; i++ {
		p.ApplyOutcome("", models.TierAggressive, models.OutcomeCrisis)
	}
	after := p.Thresholds().Aggressive

	if after >= before {
		t.Errorf("Confirmed crises did not lower the threshold: %.4f -> %.4f", before, after)
	}
	if !p.cfg.Band.Contains(after) {
		t.Errorf("Threshold %.4f escaped safety band", after)
	}
}

func TestProfile_ThresholdOrderSurvivesClamping(t *testing.T) {
	p := NewProfile("e1", testConfig())

	// Push factors hard in both directions
	for i := 0; i < 100; i++ {
		p.ApplyOutcome("", models.TierGentle, models.OutcomeFalsePositive)
		p.ApplyOutcome("", models.TierAggressive, models.OutcomeCrisis)
	}

	thr := p.Thresholds()
	if !(thr.Gentle < thr.Moderate && thr.Moderate < thr.Aggressive) {
		t.Errorf("Threshold order broken after adaptation: %.4f/%.4f/%.4f",
			thr.Gentle, thr.Moderate, thr.Aggressive)
	}
}

func TestProfile_PredictRisk(t *testing.T) {
	p := NewProfile("e1", testConfig())

	// No patterns: neutral 0.5
	if got := p.PredictRisk(1.0, map[string]float64{"hr": 80}); got != 0.5 {
		t.Errorf("PredictRisk with no patterns = %.2f, want 0.5", got)
	}

	p.RecordPattern(models.PatternEntry{
		Timestamp: 1, FI: 1.0,
		Channels: map[string]float64{"hr": 80},
		Outcome:  models.OutcomeCrisis,
	})
	p.RecordPattern(models.PatternEntry{
		Timestamp: 2, FI: 1.05,
		Channels: map[string]float64{"hr": 82},
		Outcome:  models.OutcomeFalsePositive,
	})
	// Far away in FI, must not match
	p.RecordPattern(models.PatternEntry{
		Timestamp: 3, FI: 2.5,
		Channels: map[string]float64{"hr": 80},
		Outcome:  models.OutcomeCrisis,
	})

	got := p.PredictRisk(1.02, map[string]float64{"hr": 81})
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("PredictRisk = %.2f, want 0.5 (1 crisis of 2 matches)", got)
	}

	// Channel outside tolerance breaks the match
	got = p.PredictRisk(1.02, map[string]float64{"hr": 200})
	if got != 0.5 {
		t.Errorf("PredictRisk with mismatched channel = %.2f, want neutral 0.5", got)
	}
}

func TestProfile_enforceIdempotentEvents(t *testing.T) {
	p := NewProfile("e1", testConfig())

	if !p.MarkEventSeen("evt-1") {
		t.Fatal("First MarkEventSeen returned false")
	}
	if p.MarkEventSeen("evt-1") {
		t.Error("Duplicate eventRef accepted twice")
	}
	if !p.MarkEventSeen("evt-2") {
		t.Error("Distinct eventRef rejected")
	}
}

func TestProfile_ExportImportRoundTrip(t *testing.T) {
	cfg := testConfig()
	p := NewProfile("e1", cfg)

	p.ObserveChannels(map[string]float64{"hr": 72, "hrv": 48}, 100)
	p.ObserveChannels(map[string]float64{"hr": 75, "hrv": 45}, 200)
	p.ObserveStress(48)
	p.ObserveStress(45)
	p.ObserveScore(0.7, models.TrendWorsening)
	p.RecordPattern(models.PatternEntry{Timestamp: 200, FI: 0.7, EventID: "evt-9"})
	p.ApplyOutcome("evt-9", models.TierModerate, models.OutcomeFalsePositive)
	p.CountIntervention()

	exp := p.Export()
	if exp.SchemaVersion != models.ExportSchemaVersion {
		t.Fatalf("Export schema version %d, want %d", exp.SchemaVersion, models.ExportSchemaVersion)
	}

	restored := NewProfile("e1", cfg)
	restored.Restore(exp)

	if restored.counters != p.counters {
		t.Errorf("Counters differ after round trip: %+v vs %+v", restored.counters, p.counters)
	}
	if restored.PatternCount() != p.PatternCount() {
		t.Errorf("Pattern count %d, want %d", restored.PatternCount(), p.PatternCount())
	}
	if restored.patterns[0].Outcome != models.OutcomeFalsePositive {
		t.Error("Pattern relabeling lost in round trip")
	}
	for tier, f := range p.tierFactors {
		if math.Abs(restored.tierFactors[tier]-f) > 1e-12 {
			t.Errorf("Tier factor %s: %.6f, want %.6f", tier, restored.tierFactors[tier], f)
		}
	}

	hr, ok := restored.Baseline("hr")
	if !ok {
		t.Fatal("Channel baseline lost in round trip")
	}
	orig, _ := p.Baseline("hr")
	if math.Abs(hr.Mean-orig.Mean) > 1e-9 || math.Abs(hr.Std-orig.Std) > 1e-9 {
		t.Errorf("Baseline differs: %+v vs %+v", hr, orig)
	}

	if _, ok := restored.StressBaseline(); !ok {
		t.Error("Stress baseline lost in round trip")
	}
}

func TestProfile_RoundTripKeepsThresholdsUnderVariedFI(t *testing.T) {
	cfg := testConfig()
	p := NewProfile("e1", cfg)

	// Varied recent FI raises sigma, so thresholds scale away from base
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 30; i++ {
		p.ObserveScore(0.3+rng.Float64(), models.TrendStable)
	}

	before := p.Thresholds()
	base := cfg.BaseThresholds
	if before.Moderate == base.Moderate && before.Aggressive == base.Aggressive {
		t.Fatal("Test setup produced base thresholds, sigma scaling is inert")
	}

	restored := NewProfile("e1", cfg)
	restored.Restore(p.Export())
	after := restored.Thresholds()

	if math.Abs(after.Gentle-before.Gentle) > 1e-12 ||
		math.Abs(after.Moderate-before.Moderate) > 1e-12 ||
		math.Abs(after.Aggressive-before.Aggressive) > 1e-12 {
		t.Errorf("Round trip changed thresholds: %.6f/%.6f/%.6f -> %.6f/%.6f/%.6f",
			before.Gentle, before.Moderate, before.Aggressive,
			after.Gentle, after.Moderate, after.Aggressive)
	}

	recent := restored.recentFI.Values()
	if len(recent) != len(p.recentFI.Values()) {
		t.Errorf("Recent FI ring size %d after round trip, want %d",
			len(recent), len(p.recentFI.Values()))
	}
}

func TestProfile_ApplyOutcomeReportsBandViolation(t *testing.T) {
	p := NewProfile("e1", testConfig())

	var bandErr error
	for i := 0; i < 50 && bandErr == nil; i++ {
		bandErr = p.ApplyOutcome("", models.TierModerate, models.OutcomeFalsePositive)
	}

	if !errors.Is(bandErr, models.ErrThresholdBand) {
		t.Fatalf("Runaway false positives never reported ErrThresholdBand, got %v", bandErr)
	}

	// The outcome is still applied, but the published threshold stays banded
	thr := p.Thresholds()
	if !p.cfg.Band.Contains(thr.Moderate) {
		t.Errorf("Threshold %.4f escaped safety band after violation", thr.Moderate)
	}
}

func TestProfile_ThresholdsStayBandedAtLowerEdge(t *testing.T) {
	cfg := testConfig()
	p := NewProfile("e1", cfg)

	// Force every tier onto the band floor; separation must not dip below it
	for tier := range p.tierFactors {
		p.tierFactors[tier] = 0.01
	}

	thr := p.Thresholds()
	if !(thr.Gentle < thr.Moderate && thr.Moderate < thr.Aggressive) {
		t.Fatalf("Threshold order broken at band floor: %.8f/%.8f/%.8f",
			thr.Gentle, thr.Moderate, thr.Aggressive)
	}
	for _, v := range []float64{thr.Gentle, thr.Moderate, thr.Aggressive} {
		if !cfg.Band.Contains(v) {
			t.Errorf("Threshold %.8f outside safety band [%.2f, %.2f]", v, cfg.Band.Min, cfg.Band.Max)
		}
	}
}

func TestMigrateExport_V1(t *testing.T) {
	exp := models.ProfileExport{
		SchemaVersion: 1,
		EntityID:      "e1",
		Counters:      models.ProfileCounters{Observations: 10, FalsePositives: 2},
	}

	if err := models.MigrateExport(&exp); err != nil {
		t.Fatalf("MigrateExport failed: %v", err)
	}

	if exp.SchemaVersion != models.ExportSchemaVersion {
		t.Errorf("Schema version %d after migration, want %d", exp.SchemaVersion, models.ExportSchemaVersion)
	}
	if exp.TierFactors[models.TierModerate] != 1.0 {
		t.Error("Migration did not default tier factors")
	}
	if exp.Counters.Observations != 10 {
		t.Error("Migration lost counters")
	}

	unknown := models.ProfileExport{SchemaVersion: 99}
	if err := models.MigrateExport(&unknown); !errors.Is(err, models.ErrSchemaVersion) {
		t.Errorf("Expected ErrSchemaVersion for unknown version, got %v", err)
	}
}

func TestStore_CreatesOnFirstObservation(t *testing.T) {
	s := NewStore(testConfig())

	err := s.With("e1", func(p *Profile) error {
		p.ObserveChannels(map[string]float64{"x": 1}, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("With failed: %v", err)
	}

	if s.Len() != 1 {
		t.Errorf("Store size %d, want 1", s.Len())
	}

	err = s.WithExisting("ghost", func(p *Profile) error { return nil })
	if !errors.Is(err, models.ErrUnknownEntity) {
		t.Errorf("Expected ErrUnknownEntity, got %v", err)
	}
}

func TestStore_SweepInactive(t *testing.T) {
	s := NewStore(testConfig())

	_ = s.With("old", func(p *Profile) error {
		p.ObserveChannels(map[string]float64{"x": 1}, 100)
		return nil
	})
	_ = s.With("fresh", func(p *Profile) error {
		p.ObserveChannels(map[string]float64{"x": 1}, 900)
		return nil
	})

	exports := s.SweepInactive(500)

	if len(exports) != 1 || exports[0].EntityID != "old" {
		t.Fatalf("Sweep exported wrong profiles: %+v", exports)
	}
	if s.Len() != 1 {
		t.Errorf("Store size after sweep %d, want 1", s.Len())
	}
	if err := s.WithExisting("fresh", func(p *Profile) error { return nil }); err != nil {
		t.Errorf("Fresh profile evicted: %v", err)
	}
}

func TestStore_ReplaceRetainsOldProfile(t *testing.T) {
	s := NewStore(testConfig())

	_ = s.With("e1", func(p *Profile) error {
		p.ObserveChannels(map[string]float64{"x": 1}, 1)
		return nil
	})

	old := s.Replace("e1")
	if old == nil {
		t.Fatal("Replace did not return the previous profile")
	}
	if old.counters.Observations != 1 {
		t.Error("Returned profile is not the old one")
	}

	_ = s.WithExisting("e1", func(p *Profile) error {
		if p.counters.Observations != 0 {
			t.Error("Replacement profile is not fresh")
		}
		return nil
	})
}

func TestStore_ReplaceUnknownIsNoop(t *testing.T) {
	s := NewStore(testConfig())

	if old := s.Replace("ghost"); old != nil {
		t.Errorf("Replace of unknown entity returned %v, want nil", old)
	}
	// Profiles are created by first observation only, never by recovery
	if s.Len() != 0 {
		t.Errorf("Replace created a profile, store size %d, want 0", s.Len())
	}
}

func BenchmarkProfileObserve(b *testing.B) {
	p := NewProfile("e1", testConfig())
	channels := map[string]float64{"hr": 72, "hrv": 48, "attention": 0.8}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.ObserveChannels(channels, uint64(i+1))
	}
}

func BenchmarkPredictRisk(b *testing.B) {
	p := NewProfile("e1", testConfig())
	for i := 0; i < 100; i++ {
		p.RecordPattern(models.PatternEntry{
			Timestamp: uint64(i + 1),
			FI:        float64(i%20) * 0.1,
			Channels:  map[string]float64{"hr": float64(60 + i%30)},
			Outcome:   models.OutcomeCrisis,
		})
	}
	current := map[string]float64{"hr": 75}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.PredictRisk(1.0, current)
	}
}
