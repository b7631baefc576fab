package engine

import (
	"golang.org/x/sync/errgroup"

	"fracture-monitor/internal/models"
)

// Sample одна выборка пакетного наблюдения
type Sample struct {
	EntityID  string             `json:"entity_id"`
	Channels  map[string]float64 `json:"channels"`
	Timestamp uint64             `json:"timestamp"`
}

// BatchResult результат оценки одной выборки пакета
type BatchResult struct {
	Score  models.FractureScore `json:"score"`
	Events []models.Event       `json:"events,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// ObserveBatch оценивает пакет выборок. Сущности независимы и
// обрабатываются параллельно; порядок выборок внутри одной сущности
// сохраняется (параллелизм только между сущностями).
func (e *Engine) ObserveBatch(samples []Sample) []BatchResult {
	results := make([]BatchResult, len(samples))

	// Группировка по сущности сохраняет порядок прихода внутри нее
	byEntity := make(map[string][]int)
	for i, s := range samples {
		byEntity[s.EntityID] = append(byEntity[s.EntityID], i)
	}

	var g errgroup.Group
	for _, indices := range byEntity {
		indices := indices
		g.Go(func() error {
			for _, i := range indices {
				s := samples[i]
				score, events, err := e.Observe(s.EntityID, s.Channels, s.Timestamp)
				if err != nil {
					results[i] = BatchResult{Error: err.Error()}
					continue
				}
				results[i] = BatchResult{Score: score, Events: events}
			}
			return nil
		})
	}
	// Воркеры не возвращают ошибок: сбой одной выборки не валит пакет
	_ = g.Wait()

	return results
}
