// Package scoring вычисляет составной индекс разлома из набора признаков
package scoring

import (
	"math"

	"fracture-monitor/internal/config"
	"fracture-monitor/internal/models"
)

// Stress внешний сигнал стресса с персональной базовой линией.
// Значение ниже базовой линии усиливает индекс (например, низкий HRV).
type Stress struct {
	Value    float64
	Baseline float64
}

// Compute собирает индекс разлома из признаков по весам домена.
// Недостаточное окно дает нулевой индекс с флагом, а не вводящую
// в заблуждение оценку. Результат всегда неотрицателен и конечен.
func Compute(fs models.FeatureSet, w config.Weights, amplifyMax float64, stress *Stress) float64 {
	if fs.Insufficient {
		return 0
	}

	fi := w.SlopeDelta * math.Max(0, -fs.SpectralSlopeDelta)
	fi += w.Autocorr * fs.Lag1Autocorr
	fi += w.Skewness * math.Abs(fs.Skewness)
	fi += w.Wavelet * math.Max(0, fs.WaveletEnergy)
	fi += w.Fractal * math.Max(0, fs.FractalDimension-1)

	fi *= stressFactor(stress, amplifyMax)

	if fi < 0 || math.IsNaN(fi) || math.IsInf(fi, 0) {
		return 0
	}
	return fi
}

// stressFactor возвращает мультипликатор усиления [1, 1+amplifyMax].
// Усиление действует только когда сигнал стресса ниже своей базовой линии.
func stressFactor(stress *Stress, amplifyMax float64) float64 {
	if stress == nil || stress.Baseline <= 0 || stress.Value >= stress.Baseline {
		return 1
	}
	deficit := 1 - stress.Value/stress.Baseline
	if deficit > 1 {
		deficit = 1
	}
	return 1 + amplifyMax*deficit
}

// TrendFor сравнивает индекс с предыдущим с учетом мертвой зоны
func TrendFor(curr, prev, deadBand float64) models.Trend {
	switch {
	case curr > prev+deadBand:
		return models.TrendWorsening
	case curr < prev-deadBand:
		return models.TrendImproving
	default:
		return models.TrendStable
	}
}
