package window

import (
	"fmt"
	"math"

	"fracture-monitor/internal/models"
)

// Window многоканальное кольцевое окно выборок одной сущности.
// Временные метки строго возрастают; выборка с неупорядоченной меткой
// отклоняется целиком, чтобы не портить автокорреляцию и спектр.
type Window struct {
	capacity int
	maxAbs   float64
	channels map[string]*Rolling
	lastTS   uint64
	hasLast  bool
	samples  uint64
}

// New создает окно заданной емкости.
// maxAbs задает предел абсолютного значения канала, 0 отключает проверку.
func New(capacity int, maxAbs float64) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		capacity: capacity,
		maxAbs:   maxAbs,
		channels: make(map[string]*Rolling),
	}
}

// Append добавляет выборку со всеми каналами.
// Невалидная выборка отклоняется целиком, окно остается нетронутым.
func (w *Window) Append(ts uint64, values map[string]float64) error {
	if w.hasLast && ts <= w.lastTS {
		return fmt.Errorf("%w: ts %d <= last %d", models.ErrOutOfOrderSample, ts, w.lastTS)
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: channel %q is not finite", models.ErrInvalidSample, name)
		}
		if w.maxAbs > 0 && math.Abs(v) > w.maxAbs {
			return fmt.Errorf("%w: channel %q value %.4g exceeds limit %.4g",
				models.ErrInvalidSample, name, v, w.maxAbs)
		}
	}

	for name, v := range values {
		s, ok := w.channels[name]
		if !ok {
			s = NewRolling(w.capacity)
			w.channels[name] = s
		}
		s.Add(v)
	}

	w.lastTS = ts
	w.hasLast = true
	w.samples++
	return nil
}

// Series возвращает значения канала от старейшего к новейшему
func (w *Window) Series(channel string) []float64 {
	s, ok := w.channels[channel]
	if !ok {
		return nil
	}
	return s.Values()
}

// Len возвращает количество значений канала
func (w *Window) Len(channel string) int {
	s, ok := w.channels[channel]
	if !ok {
		return 0
	}
	return s.Count()
}

// Mean возвращает среднее канала
func (w *Window) Mean(channel string) float64 {
	s, ok := w.channels[channel]
	if !ok {
		return 0
	}
	return s.Mean()
}

// Std возвращает стандартное отклонение канала
func (w *Window) Std(channel string) float64 {
	s, ok := w.channels[channel]
	if !ok {
		return 0
	}
	return s.Std()
}

// Last возвращает последнее значение канала
func (w *Window) Last(channel string) (float64, bool) {
	s, ok := w.channels[channel]
	if !ok || s.Count() == 0 {
		return 0, false
	}
	return s.Last(), true
}

// LastTimestamp возвращает метку последней принятой выборки
func (w *Window) LastTimestamp() uint64 {
	return w.lastTS
}

// Samples возвращает общее число принятых выборок
func (w *Window) Samples() uint64 {
	return w.samples
}

// Channels возвращает имена каналов, встречавшихся в окне
func (w *Window) Channels() []string {
	names := make([]string, 0, len(w.channels))
	for name := range w.channels {
		names = append(names, name)
	}
	return names
}

// Cap возвращает емкость окна
func (w *Window) Cap() int {
	return w.capacity
}

// Reset очищает окно и снимает контроль порядка меток
func (w *Window) Reset() {
	w.channels = make(map[string]*Rolling)
	w.hasLast = false
	w.lastTS = 0
}
