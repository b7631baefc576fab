package config

import "fmt"

// Встроенные пресеты доменов. Каждый пресет это обычный YAML документ,
// проходящий через тот же разбор и проверку, что и внешние файлы.
const (
	cognitivePreset = `
name: cognitive
primary_channel: attention
required_channels: [attention, typing_rate]
stress_channel: hrv
stress_amplify_max: 0.20
window_capacity: 50
min_samples: 16
weights:
  slope_delta: 1.0
  autocorr: 0.8
  skewness: 0.5
  wavelet: 0.3
  fractal: 0.0
base_thresholds:
  gentle: 0.5
  moderate: 1.0
  aggressive: 1.5
safety_band:
  min: 0.25
  max: 3.0
hysteresis_evals: 3
crisis_dwell_evals: 5
recovery_dwell_evals: 5
actions:
  gentle: [dim_notifications]
  moderate: [reduce_stimulus, suggest_break]
  aggressive: [block_distractions, alert_user]
enable_wavelet: true
`

	clinicalPreset = `
name: clinical
primary_channel: heartRate
required_channels: [heartRate, respiration]
stress_channel: hrv
stress_amplify_max: 0.20
window_capacity: 60
min_samples: 16
max_abs_sample: 10000
weights:
  slope_delta: 1.0
  autocorr: 1.0
  # Усиленный вес асимметрии: тяжелые хвосты у клинических базовых линий
  skewness: 0.8
  wavelet: 0.4
  fractal: 0.4
base_thresholds:
  gentle: 0.4
  moderate: 0.8
  aggressive: 1.3
safety_band:
  min: 0.2
  max: 2.5
hysteresis_evals: 4
crisis_dwell_evals: 5
recovery_dwell_evals: 8
actions:
  gentle: [log_observation]
  moderate: [notify_nurse]
  aggressive: [alert_physician, prepare_response]
enable_wavelet: true
enable_fractal: true
fractal_kmax: 8
`

	marketPreset = `
name: market
primary_channel: price
required_channels: [price, volume]
window_capacity: 100
min_samples: 20
weights:
  slope_delta: 1.2
  autocorr: 1.0
  skewness: 0.6
  wavelet: 0.0
  fractal: 0.5
base_thresholds:
  gentle: 0.6
  moderate: 1.1
  aggressive: 1.7
safety_band:
  min: 0.3
  max: 4.0
hysteresis_evals: 5
crisis_dwell_evals: 8
recovery_dwell_evals: 10
actions:
  gentle: [tighten_stops]
  moderate: [reduce_exposure]
  aggressive: [halt_trading, alert_desk]
enable_fractal: true
fractal_kmax: 10
pattern_memory_capacity: 200
`
)

// presets зарегистрированные встроенные домены
var presets = map[string]string{
	"cognitive": cognitivePreset,
	"clinical":  clinicalPreset,
	"market":    marketPreset,
}

// Preset возвращает встроенную конфигурацию домена по имени
func Preset(name string) (Domain, error) {
	doc, ok := presets[name]
	if !ok {
		return Domain{}, fmt.Errorf("config: unknown domain preset %q", name)
	}
	return FromYAML([]byte(doc))
}

// PresetNames возвращает имена встроенных доменов
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}
