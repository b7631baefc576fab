// Package window реализует ограниченные кольцевые окна выборок
// Однаканальное окно Rolling дает O(1) среднее и отклонение,
// многоканальное Window добавляет контроль порядка временных меток
package window

import "math"

// Rolling скользящее окно одного канала фиксированного размера
type Rolling struct {
	values []float64
	size   int
	index  int
	count  int
	sum    float64
	sumSq  float64
}

// NewRolling создает скользящее окно заданного размера
func NewRolling(size int) *Rolling {
	if size < 1 {
		size = 1
	}
	return &Rolling{
		values: make([]float64, size),
		size:   size,
	}
}

// Add добавляет значение, вытесняя старейшее при переполнении
func (r *Rolling) Add(value float64) {
	if r.count >= r.size {
		old := r.values[r.index]
		r.sum -= old
		r.sumSq -= old * old
	} else {
		r.count++
	}

	r.values[r.index] = value
	r.sum += value
	r.sumSq += value * value

	r.index = (r.index + 1) % r.size
}

// Mean возвращает среднее значение окна
func (r *Rolling) Mean() float64 {
	if r.count == 0 {
		return 0
	}
	return r.sum / float64(r.count)
}

// Std возвращает выборочное стандартное отклонение
func (r *Rolling) Std() float64 {
	if r.count < 2 {
		return 0
	}
	n := float64(r.count)
	variance := (r.sumSq - (r.sum*r.sum)/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Count возвращает количество значений в окне
func (r *Rolling) Count() int {
	return r.count
}

// Cap возвращает емкость окна
func (r *Rolling) Cap() int {
	return r.size
}

// Last возвращает последнее добавленное значение
func (r *Rolling) Last() float64 {
	if r.count == 0 {
		return 0
	}
	return r.values[(r.index-1+r.size)%r.size]
}

// Values возвращает копию значений от старейшего к новейшему
func (r *Rolling) Values() []float64 {
	out := make([]float64, 0, r.count)
	if r.count < r.size {
		return append(out, r.values[:r.count]...)
	}
	out = append(out, r.values[r.index:]...)
	return append(out, r.values[:r.index]...)
}
