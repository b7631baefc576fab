package models

import (
	"fmt"
	"time"
)

// TierThresholds персонализированные пороги уровней вмешательства
type TierThresholds struct {
	Gentle     float64 `json:"gentle"`
	Moderate   float64 `json:"moderate"`
	Aggressive float64 `json:"aggressive"`
}

// Validate проверяет инвариант gentle < moderate < aggressive
func (t TierThresholds) Validate() error {
	if !(t.Gentle < t.Moderate && t.Moderate < t.Aggressive) {
		return fmt.Errorf("thresholds must satisfy gentle < moderate < aggressive, got %.3f/%.3f/%.3f",
			t.Gentle, t.Moderate, t.Aggressive)
	}
	return nil
}

// LevelFor возвращает высший уровень, порог которого превышен индексом
func (t TierThresholds) LevelFor(fi float64) Tier {
	switch {
	case fi >= t.Aggressive:
		return TierAggressive
	case fi >= t.Moderate:
		return TierModerate
	case fi >= t.Gentle:
		return TierGentle
	default:
		return TierStable
	}
}

// For возвращает порог для заданного уровня вмешательства
func (t TierThresholds) For(tier Tier) float64 {
	switch tier {
	case TierGentle:
		return t.Gentle
	case TierModerate:
		return t.Moderate
	default:
		return t.Aggressive
	}
}

// BaselineSnapshot статистика базовой линии одного канала
type BaselineSnapshot struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count uint64  `json:"count"`
}

// ProfileCounters накопительные счетчики профиля
type ProfileCounters struct {
	Observations   uint64 `json:"observations"`
	Interventions  uint64 `json:"interventions"`
	Crises         uint64 `json:"crises"`
	TruePositives  uint64 `json:"true_positives"`
	FalsePositives uint64 `json:"false_positives"`
}

// ProfileSnapshot read-only проекция профиля для Query API
type ProfileSnapshot struct {
	EntityID      string                      `json:"entity_id"`
	Thresholds    TierThresholds              `json:"thresholds"`
	Counters      ProfileCounters             `json:"counters"`
	Channels      map[string]BaselineSnapshot `json:"channels"`
	RecentFI      []float64                   `json:"recent_fi"`
	Trend         Trend                       `json:"trend"`
	LastTimestamp uint64                      `json:"last_timestamp"`
	PatternCount  int                         `json:"pattern_count"`
	OpenCrisis    bool                        `json:"open_crisis"`
}

// EngineStatus агрегированное состояние движка для Query API
type EngineStatus struct {
	ActiveEntities   int     `json:"active_entities"`
	OpenCrises       int     `json:"open_crises"`
	InterventionRate float64 `json:"intervention_rate"`
}

// PatternEntry снимок признаков в памяти шаблонов с итоговым исходом
type PatternEntry struct {
	Timestamp uint64             `json:"timestamp"`
	FI        float64            `json:"fi"`
	Features  FeatureSet         `json:"features"`
	Channels  map[string]float64 `json:"channels"`
	Outcome   OutcomeLabel       `json:"outcome,omitempty"`
	EventID   string             `json:"event_id,omitempty"`
}

// ExportSchemaVersion текущая версия схемы экспорта профиля
const ExportSchemaVersion = 2

// ProfileExport сериализуемый документ профиля для переноса между сессиями
type ProfileExport struct {
	SchemaVersion  int                         `json:"schema_version"`
	EntityID       string                      `json:"entity_id"`
	ExportedAt     time.Time                   `json:"exported_at"`
	Channels       map[string]BaselineSnapshot `json:"channels"`
	StressBaseline *BaselineSnapshot           `json:"stress_baseline,omitempty"`
	Thresholds     TierThresholds              `json:"thresholds"`
	TierFactors    map[Tier]float64            `json:"tier_factors"`
	Counters       ProfileCounters             `json:"counters"`
	Patterns       []PatternEntry              `json:"patterns"`
	Outcomes       map[Tier][]OutcomeLabel     `json:"outcomes,omitempty"`
	RecentFI       []float64                   `json:"recent_fi,omitempty"`
	LastTimestamp  uint64                      `json:"last_timestamp"`
}

// MigrateExport приводит экспорт старой схемы к текущей версии.
// Версия 1 не содержала tier_factors и скользящих окон исходов.
func MigrateExport(exp *ProfileExport) error {
	switch exp.SchemaVersion {
	case ExportSchemaVersion:
		return nil
	case 1:
		if exp.TierFactors == nil {
			exp.TierFactors = map[Tier]float64{
				TierGentle:     1.0,
				TierModerate:   1.0,
				TierAggressive: 1.0,
			}
		}
		if exp.Outcomes == nil {
			exp.Outcomes = make(map[Tier][]OutcomeLabel)
		}
		exp.SchemaVersion = ExportSchemaVersion
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrSchemaVersion, exp.SchemaVersion)
	}
}
