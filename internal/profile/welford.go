// Package profile реализует хранилище профилей сущностей
// Профиль держит базовые линии каналов, память шаблонов, персональные
// пороги и счетчики; мутируется только хранилищем и циклом обучения
package profile

import (
	"math"

	"fracture-monitor/internal/models"
)

// Welford инкрементальная статистика среднего и дисперсии одного канала
type Welford struct {
	count uint64
	mean  float64
	m2    float64
}

// Add добавляет наблюдение
func (w *Welford) Add(value float64) {
	w.count++
	delta := value - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (value - w.mean)
}

// Mean возвращает среднее
func (w *Welford) Mean() float64 {
	return w.mean
}

// Std возвращает выборочное стандартное отклонение
func (w *Welford) Std() float64 {
	if w.count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count-1))
}

// Count возвращает число наблюдений
func (w *Welford) Count() uint64 {
	return w.count
}

// Snapshot возвращает сериализуемую проекцию статистики
func (w *Welford) Snapshot() models.BaselineSnapshot {
	return models.BaselineSnapshot{
		Mean:  w.Mean(),
		Std:   w.Std(),
		Count: w.count,
	}
}

// restoreWelford восстанавливает статистику из снимка экспорта
func restoreWelford(s models.BaselineSnapshot) *Welford {
	w := &Welford{count: s.Count, mean: s.Mean}
	if s.Count > 1 {
		w.m2 = s.Std * s.Std * float64(s.Count-1)
	}
	return w
}
