package models

import "time"

// OutcomeLabel подтвержденный исход эпизода вмешательства или кризиса
type OutcomeLabel string

const (
	// OutcomeCrisis кризис подтвердился
	OutcomeCrisis OutcomeLabel = "crisis"
	// OutcomeFalsePositive сработка оказалась ложной
	OutcomeFalsePositive OutcomeLabel = "false_positive"
	// OutcomeInterventionSuccess вмешательство предотвратило ухудшение
	OutcomeInterventionSuccess OutcomeLabel = "intervention_success"
)

// Valid проверяет, что метка исхода известна
func (l OutcomeLabel) Valid() bool {
	switch l {
	case OutcomeCrisis, OutcomeFalsePositive, OutcomeInterventionSuccess:
		return true
	}
	return false
}

// InterventionEvent неизменяемая запись о входе в уровень вмешательства
type InterventionEvent struct {
	ID        string        `json:"id"`
	EntityID  string        `json:"entity_id"`
	Timestamp uint64        `json:"timestamp"`
	CreatedAt time.Time     `json:"created_at"`
	Score     FractureScore `json:"score"`
	Tier      Tier          `json:"tier"`
	Actions   []string      `json:"actions"`
}

// CrisisRecord запись о кризисном эпизоде, закрываемая при восстановлении
type CrisisRecord struct {
	ID            string       `json:"id"`
	EntityID      string       `json:"entity_id"`
	StartedAt     uint64       `json:"started_at"`
	ClearedAt     uint64       `json:"cleared_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	DurationEvals int          `json:"duration_evals"`
	PeakFI        float64      `json:"peak_fi"`
	Outcome       OutcomeLabel `json:"outcome,omitempty"`
	Open          bool         `json:"open"`
}

// EventType тип события движка
type EventType string

const (
	// EventTierChanged уровень сущности изменился
	EventTierChanged EventType = "tier_changed"
	// EventIntervention создано вмешательство
	EventIntervention EventType = "intervention"
	// EventCrisisConfirmed кризис подтвержден после выдержки
	EventCrisisConfirmed EventType = "crisis_confirmed"
	// EventCrisisCleared кризис снят после восстановления
	EventCrisisCleared EventType = "crisis_cleared"
)

// Event типизированное событие, возвращаемое из пути оценки
type Event struct {
	Type         EventType          `json:"type"`
	EntityID     string             `json:"entity_id"`
	Timestamp    uint64             `json:"timestamp"`
	Tier         Tier               `json:"tier"`
	PrevTier     Tier               `json:"prev_tier,omitempty"`
	Intervention *InterventionEvent `json:"intervention,omitempty"`
	Crisis       *CrisisRecord      `json:"crisis,omitempty"`
}
