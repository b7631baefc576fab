// Package models содержит структуры данных для оценок, событий и профилей
package models

// Tier уровень вмешательства, упорядоченный от stable до crisis
type Tier string

const (
	// TierStable нормальное состояние, вмешательство не требуется
	TierStable Tier = "stable"
	// TierGentle мягкое вмешательство
	TierGentle Tier = "gentle"
	// TierModerate умеренное вмешательство
	TierModerate Tier = "moderate"
	// TierAggressive агрессивное вмешательство
	TierAggressive Tier = "aggressive"
	// TierCrisis подтвержденный кризис
	TierCrisis Tier = "crisis"
)

// tierRanks порядок уровней для сравнения
var tierRanks = map[Tier]int{
	TierStable:     0,
	TierGentle:     1,
	TierModerate:   2,
	TierAggressive: 3,
	TierCrisis:     4,
}

// Rank возвращает порядковый номер уровня (stable=0 ... crisis=4)
func (t Tier) Rank() int {
	return tierRanks[t]
}

// AtLeast сообщает, что уровень не ниже заданного
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// Valid проверяет, что значение является известным уровнем
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// InterventionTiers уровни, при входе в которые создается InterventionEvent
var InterventionTiers = []Tier{TierGentle, TierModerate, TierAggressive}

// Trend направление изменения индекса относительно предыдущей оценки
type Trend string

const (
	// TrendImproving индекс снижается
	TrendImproving Trend = "improving"
	// TrendStable индекс без значимых изменений
	TrendStable Trend = "stable"
	// TrendWorsening индекс растет
	TrendWorsening Trend = "worsening"
)

// FeatureSet результаты работы экстракторов для одного окна
type FeatureSet struct {
	SpectralSlopeDelta float64 `json:"spectral_slope_delta"`
	Lag1Autocorr       float64 `json:"lag1_autocorr"`
	Skewness           float64 `json:"skewness"`
	Variability        float64 `json:"variability"`
	WaveletEnergy      float64 `json:"wavelet_energy,omitempty"`
	FractalDimension   float64 `json:"fractal_dimension,omitempty"`
	Insufficient       bool    `json:"insufficient,omitempty"`
}

// FractureScore составной индекс разлома вместе с породившими его признаками
type FractureScore struct {
	EntityID     string     `json:"entity_id"`
	Timestamp    uint64     `json:"timestamp"`
	Value        float64    `json:"value"`
	Features     FeatureSet `json:"features"`
	Tier         Tier       `json:"tier"`
	Trend        Trend      `json:"trend"`
	Insufficient bool       `json:"insufficient"`
	Confidence   float64    `json:"confidence"`
}
