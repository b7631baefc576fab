// Package features реализует чистые экстракторы признаков окна выборок
// Спектральный наклон, автокорреляция, асимметрия, вариативность,
// энергия вейвлета и фрактальная размерность; все результаты конечны
package features

import (
	"math"

	"fracture-monitor/internal/models"
)

const (
	// SpectralMinSamples минимальная длина окна для спектрального наклона
	SpectralMinSamples = 16
	// WaveletMinSamples минимальная длина окна для энергии вейвлета
	WaveletMinSamples = 8
	// FractalMinSamples минимальная длина окна для фрактальной размерности
	FractalMinSamples = 10
	// SkewMinSamples минимальная длина окна для асимметрии
	SkewMinSamples = 3
)

// finite возвращает значение или 0, если оно не является конечным числом
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Standardize возвращает z-score копию ряда.
// Ряд с нулевой дисперсией отображается в нули.
func Standardize(series []float64) []float64 {
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out
	}

	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, v := range series {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(series))

	if variance == 0 {
		return out
	}

	std := math.Sqrt(variance)
	for i, v := range series {
		out[i] = finite((v - mean) / std)
	}
	return out
}

// Lag1Autocorr вычисляет корреляцию Пирсона ряда с его сдвигом на один шаг.
// Для постоянного ряда возвращает 0 вместо NaN.
func Lag1Autocorr(series []float64) float64 {
	n := len(series)
	if n < 2 {
		return 0
	}

	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(n)

	var num, den float64
	for i := 0; i < n-1; i++ {
		num += (series[i] - mean) * (series[i+1] - mean)
	}
	for _, v := range series {
		d := v - mean
		den += d * d
	}

	if den == 0 {
		return 0
	}
	return finite(num / den)
}

// Skewness вычисляет третий стандартизованный момент.
// Возвращает 0 для окон короче трех выборок и при нулевой дисперсии.
func Skewness(series []float64) float64 {
	n := len(series)
	if n < SkewMinSamples {
		return 0
	}

	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(n)

	var m2, m3 float64
	for _, v := range series {
		d := v - mean
		m2 += d * d
		m3 += d * d * d
	}
	m2 /= float64(n)
	m3 /= float64(n)

	if m2 == 0 {
		return 0
	}
	return finite(m3 / math.Pow(m2, 1.5))
}

// Variability вычисляет коэффициент вариации σ/μ.
// Возвращает 0 при нулевом среднем.
func Variability(series []float64) float64 {
	n := len(series)
	if n < 2 {
		return 0
	}

	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(n)

	if mean == 0 {
		return 0
	}

	variance := 0.0
	for _, v := range series {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n - 1)

	return finite(math.Sqrt(variance) / mean)
}

// WaveletEnergy вычисляет долю энергии детализирующих коэффициентов Хаара
// на самом мелком уровне. Возвращает 0 для окон короче восьми выборок.
func WaveletEnergy(series []float64) float64 {
	n := len(series)
	if n < WaveletMinSamples {
		return 0
	}

	// Четная длина для парных разностей
	if n%2 == 1 {
		series = series[1:]
		n--
	}

	var detail, total float64
	for i := 0; i < n; i += 2 {
		d := (series[i] - series[i+1]) / math.Sqrt2
		detail += d * d
	}
	for _, v := range series {
		total += v * v
	}

	if total == 0 {
		return 0
	}
	return finite(detail / total)
}

// FractalDimension оценивает фрактальную размерность методом Хигучи.
// Для прямой линии значение близко к 1, для шума приближается к 2.
// Возвращает 0 для окон короче десяти выборок.
func FractalDimension(series []float64, kmax int) float64 {
	n := len(series)
	if n < FractalMinSamples || kmax < 2 {
		return 0
	}
	if kmax > n/2 {
		kmax = n / 2
	}

	var logK, logL []float64
	for k := 1; k <= kmax; k++ {
		var lengthSum float64
		curves := 0
		for m := 0; m < k; m++ {
			var lm float64
			steps := (n - 1 - m) / k
			if steps < 1 {
				continue
			}
			for i := 1; i <= steps; i++ {
				lm += math.Abs(series[m+i*k] - series[m+(i-1)*k])
			}
			norm := float64(n-1) / (float64(steps) * float64(k))
			lm = lm * norm / float64(k)
			lengthSum += lm
			curves++
		}
		if curves == 0 || lengthSum == 0 {
			continue
		}
		avg := lengthSum / float64(curves)
		logK = append(logK, math.Log(1.0/float64(k)))
		logL = append(logL, math.Log(avg))
	}

	if len(logK) < 2 {
		return 0
	}

	slope := linearSlope(logK, logL)
	return finite(slope)
}

// linearSlope возвращает наклон прямой МНК по точкам (x, y)
func linearSlope(x, y []float64) float64 {
	n := float64(len(x))
	var sumX, sumY, sumXY, sumXX float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumXX += x[i] * x[i]
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

// nextPow2 возвращает ближайшую сверху степень двойки
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// SpectralSlope вычисляет наклон log-log периодограммы стандартизованного окна.
// Окно дополняется нулями до степени двойки; постоянная составляющая исключается.
// Возвращает (0, false) для окон короче SpectralMinSamples.
func SpectralSlope(series []float64) (float64, bool) {
	if len(series) < SpectralMinSamples {
		return 0, false
	}

	z := Standardize(series)
	padded := make([]float64, nextPow2(len(z)))
	copy(padded, z)

	power := periodogram(padded)

	// Линия по (log f, log P), DC и нулевые мощности пропускаются
	var logF, logP []float64
	for k := 1; k < len(power); k++ {
		if power[k] <= 0 {
			continue
		}
		logF = append(logF, math.Log(float64(k)))
		logP = append(logP, math.Log(power[k]))
	}
	if len(logF) < 2 {
		return 0, true
	}

	return finite(linearSlope(logF, logP)), true
}

// SpectralSlopeDelta возвращает разность спектральных наклонов двух окон.
// Возвращает 0, если любое из окон короче минимума.
func SpectralSlopeDelta(curr, prev []float64) float64 {
	currSlope, ok1 := SpectralSlope(curr)
	prevSlope, ok2 := SpectralSlope(prev)
	if !ok1 || !ok2 {
		return 0
	}
	return finite(currSlope - prevSlope)
}

// periodogram вычисляет мощности первой половины спектра ДПФ.
// Длина входа должна быть степенью двойки.
func periodogram(x []float64) []float64 {
	n := len(x)
	re := make([]float64, n)
	im := make([]float64, n)
	copy(re, x)
	fft(re, im)

	half := n / 2
	power := make([]float64, half)
	for k := 0; k < half; k++ {
		power[k] = (re[k]*re[k] + im[k]*im[k]) / float64(n)
	}
	return power
}

// fft итеративное БПФ по основанию 2 на месте
func fft(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	// Перестановка бит-реверсом
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wRe := math.Cos(angle)
		wIm := math.Sin(angle)
		for start := 0; start < n; start += length {
			curRe, curIm := 1.0, 0.0
			half := length / 2
			for k := 0; k < half; k++ {
				i := start + k
				j := i + half
				tRe := re[j]*curRe - im[j]*curIm
				tIm := re[j]*curIm + im[j]*curRe
				re[j] = re[i] - tRe
				im[j] = im[i] - tIm
				re[i] += tRe
				im[i] += tIm
				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}
}

// Options управляет включением дополнительных экстракторов
type Options struct {
	MinSamples    int
	EnableWavelet bool
	EnableFractal bool
	FractalKMax   int
}

// Extract собирает полный набор признаков по текущему и предыдущему окнам.
// При нехватке выборок возвращает набор с флагом Insufficient.
func Extract(curr, prev []float64, opts Options) models.FeatureSet {
	if len(curr) < opts.MinSamples {
		return models.FeatureSet{Insufficient: true}
	}

	z := Standardize(curr)

	fs := models.FeatureSet{
		SpectralSlopeDelta: SpectralSlopeDelta(curr, prev),
		Lag1Autocorr:       Lag1Autocorr(z),
		Skewness:           Skewness(z),
		Variability:        Variability(curr),
	}
	if opts.EnableWavelet {
		fs.WaveletEnergy = WaveletEnergy(z)
	}
	if opts.EnableFractal {
		fs.FractalDimension = FractalDimension(curr, opts.FractalKMax)
	}
	return fs
}
