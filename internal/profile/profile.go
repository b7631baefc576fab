package profile

import (
	"fmt"
	"math"
	"time"

	"fracture-monitor/internal/config"
	"fracture-monitor/internal/models"
	"fracture-monitor/internal/window"
)

// Profile профиль одной сущности.
// Не потокобезопасен сам по себе: доступ сериализуется хранилищем
// через With, что и дает атомарность пути оценки относительно обучения.
type Profile struct {
	entityID string
	cfg      *config.Domain

	channels map[string]*Welford
	stress   *Welford

	tierFactors map[models.Tier]float64
	recentFI    *window.Rolling
	patterns    []models.PatternEntry
	counters    models.ProfileCounters
	outcomes    map[models.Tier][]models.OutcomeLabel

	// seenEvents ограниченный набор обработанных eventRef для идемпотентности
	seenEvents map[string]bool
	seenOrder  []string

	lastTimestamp uint64
	lastFI        float64
	lastTrend     models.Trend
}

// seenEventsCap предел запомненных eventRef на профиль
const seenEventsCap = 256

// NewProfile создает профиль с порогами домена по умолчанию
func NewProfile(entityID string, cfg *config.Domain) *Profile {
	return &Profile{
		entityID: entityID,
		cfg:      cfg,
		channels: make(map[string]*Welford),
		tierFactors: map[models.Tier]float64{
			models.TierGentle:     1.0,
			models.TierModerate:   1.0,
			models.TierAggressive: 1.0,
		},
		recentFI:   window.NewRolling(cfg.RecentFICapacity),
		outcomes:   make(map[models.Tier][]models.OutcomeLabel),
		seenEvents: make(map[string]bool),
		lastTrend:  models.TrendStable,
	}
}

// EntityID возвращает идентификатор сущности
func (p *Profile) EntityID() string {
	return p.entityID
}

// LastTimestamp возвращает метку последнего наблюдения
func (p *Profile) LastTimestamp() uint64 {
	return p.lastTimestamp
}

// LastFI возвращает последний индекс разлома
func (p *Profile) LastFI() float64 {
	return p.lastFI
}

// ObserveChannels обновляет базовые линии каналов по Велфорду
func (p *Profile) ObserveChannels(channels map[string]float64, ts uint64) {
	for name, v := range channels {
		w, ok := p.channels[name]
		if !ok {
			w = &Welford{}
			p.channels[name] = w
		}
		w.Add(v)
	}
	p.lastTimestamp = ts
	p.counters.Observations++
}

// ObserveStress обновляет базовую линию сигнала стресса
func (p *Profile) ObserveStress(value float64) {
	if p.stress == nil {
		p.stress = &Welford{}
	}
	p.stress.Add(value)
}

// StressBaseline возвращает среднее сигнала стресса и признак его наличия
func (p *Profile) StressBaseline() (float64, bool) {
	if p.stress == nil || p.stress.Count() < 2 {
		return 0, false
	}
	return p.stress.Mean(), true
}

// ObserveScore фиксирует вычисленный индекс и тренд
func (p *Profile) ObserveScore(fi float64, trend models.Trend) {
	p.recentFI.Add(fi)
	p.lastFI = fi
	p.lastTrend = trend
}

// Baseline возвращает статистику канала
func (p *Profile) Baseline(channel string) (models.BaselineSnapshot, bool) {
	w, ok := p.channels[channel]
	if !ok {
		return models.BaselineSnapshot{}, false
	}
	return w.Snapshot(), true
}

// RecordPattern добавляет снимок признаков в память шаблонов.
// Старейшая запись вытесняется при достижении предела.
func (p *Profile) RecordPattern(entry models.PatternEntry) {
	p.patterns = append(p.patterns, entry)
	if len(p.patterns) > p.cfg.PatternMemoryCapacity {
		p.patterns = p.patterns[len(p.patterns)-p.cfg.PatternMemoryCapacity:]
	}
}

// PatternCount возвращает размер памяти шаблонов
func (p *Profile) PatternCount() int {
	return len(p.patterns)
}

// CountIntervention увеличивает счетчик вмешательств
func (p *Profile) CountIntervention() {
	p.counters.Interventions++
}

// CountCrisis увеличивает счетчик кризисов
func (p *Profile) CountCrisis() {
	p.counters.Crises++
}

// Thresholds возвращает персонализированные пороги.
// База масштабируется изменчивостью недавнего индекса и выученным
// множителем уровня, затем прижимается к защитной полосе с сохранением
// порядка gentle < moderate < aggressive.
func (p *Profile) Thresholds() models.TierThresholds {
	sigma := p.recentFI.Std()
	scale := 1 + p.cfg.SensitivityFactor*sigma

	base := p.cfg.BaseThresholds
	band := p.cfg.Band

	aggressive := band.Clamp(base.Aggressive * scale * p.tierFactors[models.TierAggressive])
	moderate := band.Clamp(base.Moderate * scale * p.tierFactors[models.TierModerate])
	gentle := band.Clamp(base.Gentle * scale * p.tierFactors[models.TierGentle])

	// Прижатие к полосе не должно ломать порядок уровней
	const sep = 1e-6
	if moderate >= aggressive {
		moderate = aggressive - sep
	}
	if gentle >= moderate {
		gentle = moderate - sep
	}

	// Разведение вниз могло вытолкнуть нижние пороги под полосу;
	// сдвиг вверх сохраняет и порядок, и принадлежность полосе
	if gentle < band.Min {
		shift := band.Min - gentle
		gentle += shift
		moderate += shift
		aggressive += shift
	}

	return models.TierThresholds{Gentle: gentle, Moderate: moderate, Aggressive: aggressive}
}

// PredictRisk сравнивает текущие признаки с памятью шаблонов.
// Совпадением считается индекс в пределах ±0.1 и каждый канал в пределах
// ±10% или одного стандартного отклонения базовой линии. Возвращает долю
// совпавших шаблонов с исходом "кризис"; 0.5 при отсутствии совпадений.
func (p *Profile) PredictRisk(fi float64, channels map[string]float64) float64 {
	matched, crises := 0, 0

	for i := range p.patterns {
		entry := &p.patterns[i]
		if math.Abs(entry.FI-fi) > 0.1 {
			continue
		}
		if !p.channelsMatch(entry.Channels, channels) {
			continue
		}
		matched++
		if entry.Outcome == models.OutcomeCrisis {
			crises++
		}
	}

	if matched == 0 {
		return 0.5
	}
	return float64(crises) / float64(matched)
}

// channelsMatch проверяет совпадение каналов с допуском шаблона
func (p *Profile) channelsMatch(pattern, current map[string]float64) bool {
	for name, pv := range pattern {
		cv, ok := current[name]
		if !ok {
			return false
		}
		tolerance := math.Abs(pv) * 0.10
		if w, ok := p.channels[name]; ok && w.Std() > tolerance {
			tolerance = w.Std()
		}
		if math.Abs(cv-pv) > tolerance {
			return false
		}
	}
	return true
}

// MarkEventSeen регистрирует eventRef; возвращает false при повторе
func (p *Profile) MarkEventSeen(eventRef string) bool {
	if p.seenEvents[eventRef] {
		return false
	}
	p.seenEvents[eventRef] = true
	p.seenOrder = append(p.seenOrder, eventRef)
	if len(p.seenOrder) > seenEventsCap {
		oldest := p.seenOrder[0]
		p.seenOrder = p.seenOrder[1:]
		delete(p.seenEvents, oldest)
	}
	return true
}

// ApplyOutcome обновляет скользящее окно исходов уровня, счетчики,
// выученный множитель порога и переразмечает совпавшие шаблоны.
// Множитель растет при ложных сработках (порог менее чувствителен)
// и снижается при подтвержденных кризисах; Thresholds прижимает
// результат к защитной полосе. Если шаг адаптации вывел бы порог
// за полосу, исход все равно применяется, а вызывающему возвращается
// ErrThresholdBand для учета.
func (p *Profile) ApplyOutcome(eventRef string, tier models.Tier, label models.OutcomeLabel) error {
	recent := append(p.outcomes[tier], label)
	if len(recent) > p.cfg.OutcomeWindow {
		recent = recent[len(recent)-p.cfg.OutcomeWindow:]
	}
	p.outcomes[tier] = recent

	var fp, crisis int
	for _, l := range recent {
		switch l {
		case models.OutcomeFalsePositive:
			fp++
		case models.OutcomeCrisis:
			crisis++
		}
	}
	fpRate := float64(fp) / float64(len(recent))
	crisisRate := float64(crisis) / float64(len(recent))

	factor := p.tierFactors[tier]
	switch label {
	case models.OutcomeFalsePositive:
		p.counters.FalsePositives++
		factor *= 1 + p.cfg.FalsePositivePenalty*fpRate
	case models.OutcomeCrisis:
		p.counters.TruePositives++
		factor *= 1 - p.cfg.FalsePositivePenalty*crisisRate
		if factor < minTierFactor {
			factor = minTierFactor
		}
	case models.OutcomeInterventionSuccess:
		p.counters.TruePositives++
	}
	p.tierFactors[tier] = factor

	p.relabelPatterns(eventRef, label)

	raw := p.cfg.BaseThresholds.For(tier) * factor
	if !p.cfg.Band.Contains(raw) {
		return fmt.Errorf("%w: %s threshold %.3f", models.ErrThresholdBand, tier, raw)
	}
	return nil
}

// minTierFactor нижний предел выученного множителя порога
const minTierFactor = 0.25

// relabelPatterns проставляет исход шаблонам, привязанным к событию
func (p *Profile) relabelPatterns(eventRef string, label models.OutcomeLabel) {
	for i := range p.patterns {
		if p.patterns[i].EventID == eventRef {
			p.patterns[i].Outcome = label
		}
	}
}

// BindPatternsTo привязывает недавние неразмеченные шаблоны к событию,
// чтобы итоговый исход переразметил именно их
func (p *Profile) BindPatternsTo(eventRef string, sinceTS uint64) {
	for i := range p.patterns {
		if p.patterns[i].EventID == "" && p.patterns[i].Timestamp >= sinceTS {
			p.patterns[i].EventID = eventRef
		}
	}
}

// Snapshot возвращает read-only проекцию профиля для Query API
func (p *Profile) Snapshot(openCrisis bool) models.ProfileSnapshot {
	channels := make(map[string]models.BaselineSnapshot, len(p.channels))
	for name, w := range p.channels {
		channels[name] = w.Snapshot()
	}

	return models.ProfileSnapshot{
		EntityID:      p.entityID,
		Thresholds:    p.Thresholds(),
		Counters:      p.counters,
		Channels:      channels,
		RecentFI:      p.recentFI.Values(),
		Trend:         p.lastTrend,
		LastTimestamp: p.lastTimestamp,
		PatternCount:  len(p.patterns),
		OpenCrisis:    openCrisis,
	}
}

// Export возвращает сериализуемый документ профиля текущей версии схемы
func (p *Profile) Export() models.ProfileExport {
	channels := make(map[string]models.BaselineSnapshot, len(p.channels))
	for name, w := range p.channels {
		channels[name] = w.Snapshot()
	}

	var stress *models.BaselineSnapshot
	if p.stress != nil {
		s := p.stress.Snapshot()
		stress = &s
	}

	patterns := make([]models.PatternEntry, len(p.patterns))
	copy(patterns, p.patterns)

	factors := make(map[models.Tier]float64, len(p.tierFactors))
	for tier, f := range p.tierFactors {
		factors[tier] = f
	}

	outcomes := make(map[models.Tier][]models.OutcomeLabel, len(p.outcomes))
	for tier, labels := range p.outcomes {
		outcomes[tier] = append([]models.OutcomeLabel(nil), labels...)
	}

	return models.ProfileExport{
		SchemaVersion:  models.ExportSchemaVersion,
		EntityID:       p.entityID,
		ExportedAt:     time.Now().UTC(),
		Channels:       channels,
		StressBaseline: stress,
		Thresholds:     p.Thresholds(),
		TierFactors:    factors,
		Counters:       p.counters,
		Patterns:       patterns,
		Outcomes:       outcomes,
		RecentFI:       p.recentFI.Values(),
		LastTimestamp:  p.lastTimestamp,
	}
}

// Restore восстанавливает состояние профиля из экспорта.
// Экспорт должен быть приведен к текущей версии схемы заранее.
func (p *Profile) Restore(exp models.ProfileExport) {
	p.channels = make(map[string]*Welford, len(exp.Channels))
	for name, s := range exp.Channels {
		p.channels[name] = restoreWelford(s)
	}

	p.stress = nil
	if exp.StressBaseline != nil {
		p.stress = restoreWelford(*exp.StressBaseline)
	}

	p.tierFactors = map[models.Tier]float64{
		models.TierGentle:     1.0,
		models.TierModerate:   1.0,
		models.TierAggressive: 1.0,
	}
	for tier, f := range exp.TierFactors {
		p.tierFactors[tier] = f
	}

	p.counters = exp.Counters
	p.patterns = append([]models.PatternEntry(nil), exp.Patterns...)
	if len(p.patterns) > p.cfg.PatternMemoryCapacity {
		p.patterns = p.patterns[len(p.patterns)-p.cfg.PatternMemoryCapacity:]
	}

	p.outcomes = make(map[models.Tier][]models.OutcomeLabel, len(exp.Outcomes))
	for tier, labels := range exp.Outcomes {
		p.outcomes[tier] = append([]models.OutcomeLabel(nil), labels...)
	}

	// Кольцо недавних индексов восстанавливается целиком: от его
	// изменчивости зависят персонализированные пороги
	p.recentFI = window.NewRolling(p.cfg.RecentFICapacity)
	for _, fi := range exp.RecentFI {
		p.recentFI.Add(fi)
	}

	p.lastTimestamp = exp.LastTimestamp
}
