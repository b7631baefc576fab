// Package config описывает закрытую конфигурацию домена мониторинга.
// Все веса, пороги и выдержки задаются именованными полями и проверяются
// один раз при создании движка; динамических режимов нет.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fracture-monitor/internal/models"
)

// Weights веса компонент составного индекса
type Weights struct {
	SlopeDelta float64 `yaml:"slope_delta" json:"slope_delta"`
	Autocorr   float64 `yaml:"autocorr" json:"autocorr"`
	Skewness   float64 `yaml:"skewness" json:"skewness"`
	Wavelet    float64 `yaml:"wavelet" json:"wavelet"`
	Fractal    float64 `yaml:"fractal" json:"fractal"`
}

// SafetyBand жесткие границы персонализированных порогов
type SafetyBand struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Clamp прижимает значение к границам полосы
func (b SafetyBand) Clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// Contains сообщает, лежит ли значение внутри полосы
func (b SafetyBand) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Domain полная конфигурация одного домена мониторинга
type Domain struct {
	Name             string   `yaml:"name"`
	PrimaryChannel   string   `yaml:"primary_channel"`
	RequiredChannels []string `yaml:"required_channels"`

	// StressChannel внешний сигнал стресса (например HRV); пустая строка отключает
	StressChannel    string  `yaml:"stress_channel"`
	StressAmplifyMax float64 `yaml:"stress_amplify_max"`

	WindowCapacity int     `yaml:"window_capacity"`
	MinSamples     int     `yaml:"min_samples"`
	MaxAbsSample   float64 `yaml:"max_abs_sample"`

	Weights        Weights               `yaml:"weights"`
	BaseThresholds models.TierThresholds `yaml:"base_thresholds"`
	Band           SafetyBand            `yaml:"safety_band"`

	HysteresisEvals    int `yaml:"hysteresis_evals"`
	CrisisDwellEvals   int `yaml:"crisis_dwell_evals"`
	RecoveryDwellEvals int `yaml:"recovery_dwell_evals"`

	Actions map[models.Tier][]string `yaml:"actions"`

	NotableFloor          float64 `yaml:"notable_floor"`
	PatternMemoryCapacity int     `yaml:"pattern_memory_capacity"`
	RecentFICapacity      int     `yaml:"recent_fi_capacity"`
	SensitivityFactor     float64 `yaml:"sensitivity_factor"`
	FalsePositivePenalty  float64 `yaml:"false_positive_penalty"`
	OutcomeWindow         int     `yaml:"outcome_window"`
	TrendDeadBand         float64 `yaml:"trend_dead_band"`

	EnableWavelet bool `yaml:"enable_wavelet"`
	EnableFractal bool `yaml:"enable_fractal"`
	FractalKMax   int  `yaml:"fractal_kmax"`

	EventBuffer      int `yaml:"event_buffer"`
	LearningBuffer   int `yaml:"learning_buffer"`
	LearningWorkers  int `yaml:"learning_workers"`
	RetentionSeconds int `yaml:"retention_seconds"`
}

// Default базовая конфигурация, поверх которой настраиваются домены
func Default() Domain {
	return Domain{
		Name:             "default",
		PrimaryChannel:   "value",
		StressAmplifyMax: 0.20,

		WindowCapacity: 50,
		MinSamples:     16,
		MaxAbsSample:   0,

		Weights: Weights{
			SlopeDelta: 1.0,
			Autocorr:   0.8,
			Skewness:   0.5,
			Wavelet:    0.3,
			Fractal:    0.3,
		},
		BaseThresholds: models.TierThresholds{
			Gentle:     0.5,
			Moderate:   1.0,
			Aggressive: 1.5,
		},
		Band: SafetyBand{Min: 0.25, Max: 3.0},

		HysteresisEvals:    3,
		CrisisDwellEvals:   5,
		RecoveryDwellEvals: 5,

		NotableFloor:          0.6,
		PatternMemoryCapacity: 100,
		RecentFICapacity:      20,
		SensitivityFactor:     0.5,
		FalsePositivePenalty:  0.3,
		OutcomeWindow:         20,
		TrendDeadBand:         0.05,

		FractalKMax: 8,

		EventBuffer:      256,
		LearningBuffer:   1024,
		LearningWorkers:  2,
		RetentionSeconds: 0,
	}
}

// Validate проверяет все инварианты конфигурации
func (d *Domain) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("config: domain name is required")
	}
	if d.PrimaryChannel == "" {
		return fmt.Errorf("config: primary channel is required")
	}
	if d.WindowCapacity < spectralMinSamples {
		return fmt.Errorf("config: window capacity %d below extractor minimum %d",
			d.WindowCapacity, spectralMinSamples)
	}
	if d.MinSamples < 3 || d.MinSamples > d.WindowCapacity {
		return fmt.Errorf("config: min samples %d must be in [3, %d]", d.MinSamples, d.WindowCapacity)
	}
	if err := validateWeights(d.Weights); err != nil {
		return err
	}
	if err := d.BaseThresholds.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if d.Band.Min >= d.Band.Max {
		return fmt.Errorf("config: safety band min %.3f must be below max %.3f", d.Band.Min, d.Band.Max)
	}
	for _, thr := range []float64{d.BaseThresholds.Gentle, d.BaseThresholds.Moderate, d.BaseThresholds.Aggressive} {
		if !d.Band.Contains(thr) {
			return fmt.Errorf("config: base threshold %.3f outside safety band [%.3f, %.3f]",
				thr, d.Band.Min, d.Band.Max)
		}
	}
	if d.HysteresisEvals < 1 || d.CrisisDwellEvals < 1 || d.RecoveryDwellEvals < 1 {
		return fmt.Errorf("config: hysteresis and dwell counts must be >= 1")
	}
	if d.NotableFloor < 0 {
		return fmt.Errorf("config: notable floor must be >= 0")
	}
	if d.PatternMemoryCapacity < 1 {
		return fmt.Errorf("config: pattern memory capacity must be >= 1")
	}
	if d.RecentFICapacity < 2 {
		return fmt.Errorf("config: recent FI capacity must be >= 2")
	}
	if d.FalsePositivePenalty < 0 || d.FalsePositivePenalty > 1 {
		return fmt.Errorf("config: false positive penalty must be in [0, 1]")
	}
	if d.OutcomeWindow < 1 {
		return fmt.Errorf("config: outcome window must be >= 1")
	}
	if d.StressAmplifyMax < 0 || d.StressAmplifyMax > 1 {
		return fmt.Errorf("config: stress amplify max must be in [0, 1]")
	}
	if d.EnableFractal && d.FractalKMax < 2 {
		return fmt.Errorf("config: fractal kmax must be >= 2")
	}
	if d.EventBuffer < 1 || d.LearningBuffer < 1 || d.LearningWorkers < 1 {
		return fmt.Errorf("config: event buffer, learning buffer and workers must be >= 1")
	}
	for tier := range d.Actions {
		if !tier.Valid() || tier == models.TierStable || tier == models.TierCrisis {
			return fmt.Errorf("config: actions defined for non-intervention tier %q", tier)
		}
	}
	return nil
}

// spectralMinSamples минимум выборок для спектрального экстрактора
const spectralMinSamples = 16

// validateWeights проверяет неотрицательность весов
func validateWeights(w Weights) error {
	for name, v := range map[string]float64{
		"slope_delta": w.SlopeDelta,
		"autocorr":    w.Autocorr,
		"skewness":    w.Skewness,
		"wavelet":     w.Wavelet,
		"fractal":     w.Fractal,
	} {
		if v < 0 {
			return fmt.Errorf("config: weight %s must be >= 0, got %.3f", name, v)
		}
	}
	return nil
}

// ActionsFor возвращает список действий для уровня вмешательства
func (d *Domain) ActionsFor(tier models.Tier) []string {
	if acts, ok := d.Actions[tier]; ok {
		return acts
	}
	return nil
}

// FromYAML разбирает конфигурацию домена поверх значений по умолчанию
func FromYAML(data []byte) (Domain, error) {
	d := Default()
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Domain{}, fmt.Errorf("config: failed to parse yaml: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Domain{}, err
	}
	return d, nil
}

// Load читает конфигурацию домена из YAML файла
func Load(path string) (Domain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Domain{}, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return FromYAML(data)
}
