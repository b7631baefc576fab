// Package tiers реализует машину состояний уровней вмешательства
// Повышение уровня происходит немедленно, понижение только после
// выдержки ниже порога (гистерезис против дребезга уровней)
package tiers

import (
	"github.com/google/uuid"

	"fracture-monitor/internal/config"
	"fracture-monitor/internal/models"
)

// Machine машина состояний одной сущности.
// Не потокобезопасна: вызывающий сериализует Advance в пути оценки.
type Machine struct {
	entityID string
	cfg      *config.Domain

	tier       models.Tier
	belowCount int

	// Счетчики выдержки кризиса
	aggressiveRun int
	recoveryRun   int
	openCrisis    *models.CrisisRecord
	crisisStart   uint64
	peakFI        float64
}

// New создает машину в стабильном состоянии
func New(entityID string, cfg *config.Domain) *Machine {
	return &Machine{
		entityID: entityID,
		cfg:      cfg,
		tier:     models.TierStable,
	}
}

// Tier возвращает текущий уровень
func (m *Machine) Tier() models.Tier {
	return m.tier
}

// OpenCrisis возвращает открытый кризис, если он есть
func (m *Machine) OpenCrisis() *models.CrisisRecord {
	return m.openCrisis
}

// Advance обрабатывает одну оценку и возвращает порожденные события.
// thresholds это персонализированные пороги сущности на момент вызова.
func (m *Machine) Advance(score models.FractureScore, thresholds models.TierThresholds) []models.Event {
	var events []models.Event
	fi := score.Value
	ts := score.Timestamp

	// Выдержка кризиса отслеживается независимо от гистерезиса уровней
	if m.openCrisis == nil {
		if fi >= thresholds.Aggressive {
			m.aggressiveRun++
			if fi > m.peakFI {
				m.peakFI = fi
			}
			if m.aggressiveRun == 1 {
				m.crisisStart = ts
			}
			if m.aggressiveRun >= m.cfg.CrisisDwellEvals {
				return append(events, m.confirmCrisis(ts))
			}
		} else {
			m.aggressiveRun = 0
			m.peakFI = 0
		}
	} else {
		m.openCrisis.DurationEvals++
		if fi > m.openCrisis.PeakFI {
			m.openCrisis.PeakFI = fi
		}
		if fi < thresholds.Moderate {
			m.recoveryRun++
			if m.recoveryRun >= m.cfg.RecoveryDwellEvals {
				events = append(events, m.clearCrisis(ts))
			}
		} else {
			m.recoveryRun = 0
		}
		// Кризис остается терминальным состоянием до восстановления
		if m.openCrisis != nil {
			return events
		}
	}

	target := thresholds.LevelFor(fi)

	switch {
	case target.Rank() > m.tier.Rank():
		// Повышение немедленное
		events = append(events, m.transition(target, score, ts)...)
		m.belowCount = 0

	case target.Rank() < m.tier.Rank():
		// Понижение только после выдержки ниже порога текущего уровня
		m.belowCount++
		if m.belowCount >= m.cfg.HysteresisEvals {
			events = append(events, m.transition(target, score, ts)...)
			m.belowCount = 0
		}

	default:
		m.belowCount = 0
	}

	return events
}

// transition выполняет смену уровня и создает события вмешательства
func (m *Machine) transition(target models.Tier, score models.FractureScore, ts uint64) []models.Event {
	prev := m.tier
	m.tier = target

	events := []models.Event{{
		Type:      models.EventTierChanged,
		EntityID:  m.entityID,
		Timestamp: ts,
		Tier:      target,
		PrevTier:  prev,
	}}

	// Вмешательство создается только при входе на уровень снизу
	if target.Rank() > prev.Rank() && target != models.TierCrisis && target != models.TierStable {
		intervention := &models.InterventionEvent{
			ID:        uuid.NewString(),
			EntityID:  m.entityID,
			Timestamp: ts,
			Score:     score,
			Tier:      target,
			Actions:   m.cfg.ActionsFor(target),
		}
		events = append(events, models.Event{
			Type:         models.EventIntervention,
			EntityID:     m.entityID,
			Timestamp:    ts,
			Tier:         target,
			PrevTier:     prev,
			Intervention: intervention,
		})
	}

	return events
}

// confirmCrisis подтверждает кризис после выдержки над агрессивным порогом
func (m *Machine) confirmCrisis(ts uint64) models.Event {
	record := &models.CrisisRecord{
		ID:            uuid.NewString(),
		EntityID:      m.entityID,
		StartedAt:     m.crisisStart,
		DurationEvals: m.aggressiveRun,
		PeakFI:        m.peakFI,
		Open:          true,
	}

	prev := m.tier
	m.tier = models.TierCrisis
	m.openCrisis = record
	m.aggressiveRun = 0
	m.recoveryRun = 0
	m.belowCount = 0
	m.peakFI = 0

	return models.Event{
		Type:      models.EventCrisisConfirmed,
		EntityID:  m.entityID,
		Timestamp: ts,
		Tier:      models.TierCrisis,
		PrevTier:  prev,
		Crisis:    record,
	}
}

// clearCrisis снимает кризис после выдержки восстановления ниже умеренного порога
func (m *Machine) clearCrisis(ts uint64) models.Event {
	record := m.openCrisis
	record.ClearedAt = ts
	record.Open = false

	m.openCrisis = nil
	m.recoveryRun = 0
	m.tier = models.TierModerate
	m.belowCount = 0

	return models.Event{
		Type:      models.EventCrisisCleared,
		EntityID:  m.entityID,
		Timestamp: ts,
		Tier:      m.tier,
		PrevTier:  models.TierCrisis,
		Crisis:    record,
	}
}

// Reset отменяет ожидающие выдержки и закрывает открытый кризис
// без создания CrisisRecord события (команда "session end" или "reset")
func (m *Machine) Reset() {
	m.tier = models.TierStable
	m.belowCount = 0
	m.aggressiveRun = 0
	m.recoveryRun = 0
	m.openCrisis = nil
	m.peakFI = 0
	m.crisisStart = 0
}
