package tiers

import (
	"testing"

	"fracture-monitor/internal/config"
	"fracture-monitor/internal/models"
)

func testConfig() *config.Domain {
	cfg := config.Default()
	cfg.HysteresisEvals = 3
	cfg.CrisisDwellEvals = 5
	cfg.RecoveryDwellEvals = 3
	cfg.Actions = map[models.Tier][]string{
		models.TierGentle:     {"notify"},
		models.TierModerate:   {"reduce_exposure"},
		models.TierAggressive: {"alert", "halt"},
	}
	return &cfg
}

func score(fi float64, ts uint64) models.FractureScore {
	return models.FractureScore{EntityID: "e1", Timestamp: ts, Value: fi}
}

func thresholds() models.TierThresholds {
	return models.TierThresholds{Gentle: 0.5, Moderate: 1.0, Aggressive: 1.5}
}

func TestMachine_ImmediateUpgrade(t *testing.T) {
	m := New("e1", testConfig())

	events := m.Advance(score(1.1, 1), thresholds())

	if m.Tier() != models.TierModerate {
		t.Errorf("Tier = %s, want moderate", m.Tier())
	}

	var sawTransition, sawIntervention bool
	for _, e := range events {
		switch e.Type {
		case models.EventTierChanged:
			sawTransition = true
		case models.EventIntervention:
			sawIntervention = true
			if e.Intervention == nil || len(e.Intervention.Actions) == 0 {
				t.Error("Intervention event carries no actions")
			}
			if e.Intervention.Actions[0] != "reduce_exposure" {
				t.Errorf("Wrong action list: %v", e.Intervention.Actions)
			}
		}
	}
	if !sawTransition || !sawIntervention {
		t.Errorf("Expected transition + intervention events, got %d events", len(events))
	}
}

func TestMachine_HysteresisPreventsFlapping(t *testing.T) {
	m := New("e1", testConfig())
	thr := thresholds()

	m.Advance(score(0.7, 1), thr)
	if m.Tier() != models.TierGentle {
		t.Fatalf("Tier = %s, want gentle", m.Tier())
	}

	// Oscillating just below/above without sustaining must not downgrade
	ts := uint64(2)
	for i := 0; i < 10; i++ {
		m.Advance(score(0.4, ts), thr)
		ts++
		m.Advance(score(0.7, ts), thr)
		ts++
	}
	if m.Tier() != models.TierGentle {
		t.Errorf("Tier flapped to %s under oscillation", m.Tier())
	}

	// Sustained drop downgrades after the hysteresis count
	for i := 0; i < 3; i++ {
		m.Advance(score(0.3, ts), thr)
		ts++
	}
	if m.Tier() != models.TierStable {
		t.Errorf("Tier = %s after sustained drop, want stable", m.Tier())
	}
}

func TestMachine_SingleSpikeIsNotCrisis(t *testing.T) {
	m := New("e1", testConfig())
	thr := thresholds()

	events := m.Advance(score(2.0, 1), thr)
	events = append(events, m.Advance(score(0.2, 2), thr)...)

	for _, e := range events {
		if e.Type == models.EventCrisisConfirmed {
			t.Fatal("Isolated spike produced a crisis confirmation")
		}
	}
	if m.OpenCrisis() != nil {
		t.Error("Open crisis after an isolated spike")
	}
}

func TestMachine_CrisisConfirmedAfterDwell(t *testing.T) {
	m := New("e1", testConfig())
	thr := thresholds()

	fis := []float64{1.6, 1.8, 2.4, 2.0, 1.7}
	var confirmed *models.CrisisRecord
	for i, fi := range fis {
		for _, e := range m.Advance(score(fi, uint64(i+1)), thr) {
			if e.Type == models.EventCrisisConfirmed {
				confirmed = e.Crisis
			}
		}
	}

	if confirmed == nil {
		t.Fatal("Crisis not confirmed after 5 evaluations above aggressive")
	}
	if m.Tier() != models.TierCrisis {
		t.Errorf("Tier = %s, want crisis", m.Tier())
	}
	if confirmed.PeakFI != 2.4 {
		t.Errorf("PeakFI = %.2f, want 2.4 (max of the dwell span)", confirmed.PeakFI)
	}
	if confirmed.StartedAt != 1 {
		t.Errorf("StartedAt = %d, want 1", confirmed.StartedAt)
	}
	if !confirmed.Open {
		t.Error("Confirmed crisis is not marked open")
	}
}

func TestMachine_CrisisClearedAfterRecovery(t *testing.T) {
	m := New("e1", testConfig())
	thr := thresholds()

	ts := uint64(1)
	for i := 0; i < 5; i++ {
		m.Advance(score(2.0, ts), thr)
		ts++
	}
	if m.OpenCrisis() == nil {
		t.Fatal("Crisis not open after dwell")
	}

	// Above moderate keeps the crisis open
	m.Advance(score(1.2, ts), thr)
	ts++
	if m.OpenCrisis() == nil {
		t.Fatal("Crisis cleared while FI above moderate")
	}

	// Recovery dwell below moderate clears it
	var cleared *models.CrisisRecord
	for i := 0; i < 3; i++ {
		for _, e := range m.Advance(score(0.4, ts), thr) {
			if e.Type == models.EventCrisisCleared {
				cleared = e.Crisis
			}
		}
		ts++
	}

	if cleared == nil {
		t.Fatal("Crisis not cleared after recovery dwell")
	}
	if cleared.Open {
		t.Error("Cleared crisis still marked open")
	}
	if cleared.ClearedAt == 0 {
		t.Error("ClearedAt not set")
	}
	if m.Tier() == models.TierCrisis {
		t.Error("Tier still crisis after clearing")
	}
}

func TestMachine_ResetCancelsDwellWithoutRecord(t *testing.T) {
	m := New("e1", testConfig())
	thr := thresholds()

	// Partial dwell, then session reset
	for i := 0; i < 3; i++ {
		m.Advance(score(2.0, uint64(i+1)), thr)
	}
	m.Reset()

	if m.Tier() != models.TierStable {
		t.Errorf("Tier = %s after reset, want stable", m.Tier())
	}

	// Continuing below aggressive must never emit a stale CrisisRecord
	for i := 0; i < 10; i++ {
		for _, e := range m.Advance(score(0.1, uint64(i+10)), thr) {
			if e.Type == models.EventCrisisConfirmed {
				t.Fatal("Stale crisis confirmed after reset")
			}
		}
	}
}

func TestMachine_ResetClosesOpenCrisisSilently(t *testing.T) {
	m := New("e1", testConfig())
	thr := thresholds()

	for i := 0; i < 5; i++ {
		m.Advance(score(2.0, uint64(i+1)), thr)
	}
	if m.OpenCrisis() == nil {
		t.Fatal("Crisis not open")
	}

	m.Reset()

	if m.OpenCrisis() != nil {
		t.Error("Crisis still open after reset")
	}
	for _, e := range m.Advance(score(0.1, 100), thr) {
		if e.Type == models.EventCrisisCleared {
			t.Error("Reset crisis emitted a cleared event afterwards")
		}
	}
}

func TestMachine_NoInterventionOnDowngrade(t *testing.T) {
	m := New("e1", testConfig())
	thr := thresholds()

	m.Advance(score(1.2, 1), thr)

	// Sustained drop to gentle: downgrade must not create an intervention
	for i := 0; i < 3; i++ {
		for _, e := range m.Advance(score(0.7, uint64(i+2)), thr) {
			if e.Type == models.EventIntervention {
				t.Error("Downgrade emitted an intervention event")
			}
		}
	}
	if m.Tier() != models.TierGentle {
		t.Errorf("Tier = %s, want gentle", m.Tier())
	}
}
