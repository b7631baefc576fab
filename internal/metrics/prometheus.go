// Package metrics реализует экспорт метрик в Prometheus
// Это наблюдаемый боковой канал пути оценки: ошибки выборок
// деградируют оценку и учитываются здесь, не прерывая конвейер
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество HTTP запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fracture_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность HTTP запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fracture_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// SamplesObserved количество принятых выборок
	SamplesObserved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fracture_samples_observed_total",
			Help: "Total number of samples accepted into scoring",
		},
	)

	// InvalidSamples количество отброшенных невалидных выборок
	InvalidSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fracture_invalid_samples_total",
			Help: "Total number of samples dropped as invalid",
		},
	)

	// OutOfOrderSamples количество отклоненных неупорядоченных выборок
	OutOfOrderSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fracture_out_of_order_samples_total",
			Help: "Total number of samples rejected as out of order",
		},
	)

	// InsufficientScores количество оценок с флагом нехватки данных
	InsufficientScores = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fracture_insufficient_scores_total",
			Help: "Total number of zero scores flagged as insufficient data",
		},
	)

	// InterventionsTotal количество созданных вмешательств по уровням
	InterventionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fracture_interventions_total",
			Help: "Total number of intervention events emitted",
		},
		[]string{"tier"},
	)

	// CrisesConfirmed количество подтвержденных кризисов
	CrisesConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fracture_crises_confirmed_total",
			Help: "Total number of confirmed crisis records",
		},
	)

	// CrisesCleared количество снятых кризисов
	CrisesCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fracture_crises_cleared_total",
			Help: "Total number of cleared crises",
		},
	)

	// OutcomesRecorded количество записанных исходов по меткам
	OutcomesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fracture_outcomes_recorded_total",
			Help: "Total number of confirmed outcomes recorded",
		},
		[]string{"label"},
	)

	// ThresholdBandClamps количество шагов адаптации, прижатых защитной полосой
	ThresholdBandClamps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fracture_threshold_band_clamps_total",
			Help: "Total number of learned threshold updates clamped to the safety band",
		},
	)

	// EventsDropped количество событий, вытесненных из переполненного канала
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fracture_events_dropped_total",
			Help: "Total number of engine events dropped on channel overflow",
		},
	)

	// ActiveEntities количество активных сущностей
	ActiveEntities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fracture_active_entities",
			Help: "Number of entities with a live profile",
		},
	)

	// OpenCrises количество открытых кризисов
	OpenCrises = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fracture_open_crises",
			Help: "Number of currently open crises",
		},
	)

	// InterventionRate доля наблюдений, приведших к вмешательству
	InterventionRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fracture_intervention_rate",
			Help: "Interventions per observation across all entities",
		},
	)

	// ScoringLatency время вычисления одной оценки
	ScoringLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fracture_scoring_latency_seconds",
			Help:    "Scoring path latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05},
		},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fracture_active_goroutines",
			Help: "Number of active goroutines",
		},
	)
)

// UpdateStatus обновляет агрегированные gauge статуса движка
func UpdateStatus(activeEntities, openCrises int, interventionRate float64) {
	ActiveEntities.Set(float64(activeEntities))
	OpenCrises.Set(float64(openCrises))
	InterventionRate.Set(interventionRate)
}
