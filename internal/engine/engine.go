// Package engine связывает окна, экстракторы, оценку, машину уровней,
// хранилище профилей и цикл обучения в единый путь оценки.
// Контекст движка передается явным значением, без глобального состояния.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fracture-monitor/internal/config"
	"fracture-monitor/internal/features"
	"fracture-monitor/internal/learning"
	"fracture-monitor/internal/metrics"
	"fracture-monitor/internal/models"
	"fracture-monitor/internal/profile"
	"fracture-monitor/internal/scoring"
	"fracture-monitor/internal/tiers"
	"fracture-monitor/internal/window"
)

// Engine контекст мониторинга одного домена
type Engine struct {
	cfg    *config.Domain
	logger *zap.Logger

	store *profile.Store
	loop  *learning.Loop

	mu       sync.RWMutex
	states   map[string]*entityState
	closed   bool
	events   chan models.Event
	eventsMu sync.Mutex

	// Агрегаты популяции: только атомарные счетчики, без общего замка
	observations  atomic.Uint64
	interventions atomic.Uint64

	// accepted каналы, известные домену; пустой набор принимает все
	accepted map[string]bool
}

// entityState состояние пути оценки одной сущности.
// Мутируется только под замком профиля этой сущности.
type entityState struct {
	win        *window.Window
	machine    *tiers.Machine
	prevSeries []float64
	prevFI     float64
	hasPrev    bool

	// crisisOpen читается Query API без замка сущности
	crisisOpen atomic.Bool

	// eventTiers уровень по eventRef для разрешения исходов
	evMu       sync.Mutex
	eventTiers map[string]models.Tier
	eventOrder []string
}

// eventTiersCap предел индекса событий на сущность
const eventTiersCap = 256

// New создает движок для домена. Конфигурация проверяется один раз здесь.
func New(cfg config.Domain, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	accepted := make(map[string]bool)
	if len(cfg.RequiredChannels) > 0 {
		accepted[cfg.PrimaryChannel] = true
		for _, ch := range cfg.RequiredChannels {
			accepted[ch] = true
		}
		if cfg.StressChannel != "" {
			accepted[cfg.StressChannel] = true
		}
	}

	store := profile.NewStore(&cfg)
	e := &Engine{
		cfg:      &cfg,
		logger:   logger.Named("engine"),
		store:    store,
		states:   make(map[string]*entityState),
		events:   make(chan models.Event, cfg.EventBuffer),
		accepted: accepted,
	}
	e.loop = learning.NewLoop(store, cfg.LearningBuffer, logger)
	e.loop.Start(cfg.LearningWorkers)

	return e, nil
}

// Store возвращает хранилище профилей (для архивации)
func (e *Engine) Store() *profile.Store {
	return e.store
}

// Events возвращает канал типизированных событий движка.
// При переполнении старейшее событие вытесняется: путь оценки
// не блокируется потребителями никогда.
func (e *Engine) Events() <-chan models.Event {
	return e.events
}

// state возвращает состояние сущности, создавая его при первом наблюдении
func (e *Engine) state(entityID string) *entityState {
	e.mu.RLock()
	st, ok := e.states[entityID]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.states[entityID]; ok {
		return st
	}
	st = &entityState{
		win:        window.New(e.cfg.WindowCapacity, e.cfg.MaxAbsSample),
		machine:    tiers.New(entityID, e.cfg),
		eventTiers: make(map[string]models.Tier),
	}
	e.states[entityID] = st
	return st
}

// filterChannels отбрасывает неизвестные домену ключи каналов
func (e *Engine) filterChannels(channels map[string]float64) map[string]float64 {
	if len(e.accepted) == 0 {
		return channels
	}
	out := make(map[string]float64, len(channels))
	for name, v := range channels {
		if e.accepted[name] {
			out[name] = v
		}
	}
	return out
}

// Observe принимает одну выборку и возвращает оценку с событиями.
// Извлечение признаков, оценка и машина уровней для сущности выполняются
// атомарно относительно записей цикла обучения в тот же профиль.
func (e *Engine) Observe(entityID string, channels map[string]float64, ts uint64) (models.FractureScore, []models.Event, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return models.FractureScore{}, nil, models.ErrEngineClosed
	}

	started := time.Now()
	st := e.state(entityID)

	var score models.FractureScore
	var events []models.Event

	err := e.store.With(entityID, func(p *profile.Profile) error {
		known := e.filterChannels(channels)

		if err := st.win.Append(ts, known); err != nil {
			return err
		}

		p.ObserveChannels(known, ts)
		if e.cfg.StressChannel != "" {
			if v, ok := known[e.cfg.StressChannel]; ok {
				p.ObserveStress(v)
			}
		}

		score = e.evaluate(st, p, known, ts)

		if !score.Insufficient && score.Value >= e.cfg.NotableFloor {
			p.RecordPattern(models.PatternEntry{
				Timestamp: ts,
				FI:        score.Value,
				Features:  score.Features,
				Channels:  known,
			})
		}

		events = st.machine.Advance(score, p.Thresholds())
		score.Tier = st.machine.Tier()

		e.applyEvents(st, p, events, ts)
		p.ObserveScore(score.Value, score.Trend)

		st.prevSeries = st.win.Series(e.cfg.PrimaryChannel)
		st.prevFI = score.Value
		st.hasPrev = true
		return nil
	})

	if err != nil {
		e.countSampleError(entityID, err)
		return models.FractureScore{}, nil, err
	}

	metrics.SamplesObserved.Inc()
	metrics.ScoringLatency.Observe(time.Since(started).Seconds())
	if score.Insufficient {
		metrics.InsufficientScores.Inc()
	}

	e.publish(events)
	return score, events, nil
}

// evaluate вычисляет признаки, индекс, уровень и тренд для выборки
func (e *Engine) evaluate(st *entityState, p *profile.Profile, known map[string]float64, ts uint64) models.FractureScore {
	series := st.win.Series(e.cfg.PrimaryChannel)

	fs := features.Extract(series, st.prevSeries, features.Options{
		MinSamples:    e.cfg.MinSamples,
		EnableWavelet: e.cfg.EnableWavelet,
		EnableFractal: e.cfg.EnableFractal,
		FractalKMax:   e.cfg.FractalKMax,
	})

	var stress *scoring.Stress
	if e.cfg.StressChannel != "" {
		if v, ok := known[e.cfg.StressChannel]; ok {
			if baseline, ok := p.StressBaseline(); ok {
				stress = &scoring.Stress{Value: v, Baseline: baseline}
			}
		}
	}

	fi := scoring.Compute(fs, e.cfg.Weights, e.cfg.StressAmplifyMax, stress)

	trend := models.TrendStable
	if st.hasPrev && !fs.Insufficient {
		trend = scoring.TrendFor(fi, st.prevFI, e.cfg.TrendDeadBand)
	}

	return models.FractureScore{
		EntityID:     p.EntityID(),
		Timestamp:    ts,
		Value:        fi,
		Features:     fs,
		Tier:         st.machine.Tier(),
		Trend:        trend,
		Insufficient: fs.Insufficient,
		Confidence:   e.confidence(known),
	}
}

// confidence доля требуемых каналов, присутствующих в выборке.
// Отсутствие каналов деградирует уверенность, но не роняет оценку.
func (e *Engine) confidence(known map[string]float64) float64 {
	if len(e.cfg.RequiredChannels) == 0 {
		return 1
	}
	present := 0
	for _, ch := range e.cfg.RequiredChannels {
		if _, ok := known[ch]; ok {
			present++
		}
	}
	return float64(present) / float64(len(e.cfg.RequiredChannels))
}

// applyEvents отражает события машины уровней в профиле и индексе событий
func (e *Engine) applyEvents(st *entityState, p *profile.Profile, events []models.Event, ts uint64) {
	e.observations.Add(1)

	for _, ev := range events {
		switch ev.Type {
		case models.EventIntervention:
			p.CountIntervention()
			p.BindPatternsTo(ev.Intervention.ID, ts)
			st.indexEvent(ev.Intervention.ID, ev.Tier)
			e.interventions.Add(1)
			metrics.InterventionsTotal.WithLabelValues(string(ev.Tier)).Inc()
			e.logger.Info("intervention triggered",
				zap.String("entity", ev.EntityID),
				zap.String("tier", string(ev.Tier)),
				zap.Strings("actions", ev.Intervention.Actions))

		case models.EventCrisisConfirmed:
			p.CountCrisis()
			p.BindPatternsTo(ev.Crisis.ID, ev.Crisis.StartedAt)
			st.indexEvent(ev.Crisis.ID, models.TierAggressive)
			st.crisisOpen.Store(true)
			metrics.CrisesConfirmed.Inc()
			e.logger.Warn("crisis confirmed",
				zap.String("entity", ev.EntityID),
				zap.Float64("peak_fi", ev.Crisis.PeakFI),
				zap.Int("duration_evals", ev.Crisis.DurationEvals))

		case models.EventCrisisCleared:
			st.crisisOpen.Store(false)
			metrics.CrisesCleared.Inc()
			e.logger.Info("crisis cleared",
				zap.String("entity", ev.EntityID),
				zap.Uint64("cleared_at", ev.Crisis.ClearedAt))
		}
	}
}

// indexEvent запоминает уровень события для последующего разрешения исхода
func (st *entityState) indexEvent(eventRef string, tier models.Tier) {
	st.evMu.Lock()
	defer st.evMu.Unlock()

	if _, ok := st.eventTiers[eventRef]; ok {
		return
	}
	st.eventTiers[eventRef] = tier
	st.eventOrder = append(st.eventOrder, eventRef)
	if len(st.eventOrder) > eventTiersCap {
		oldest := st.eventOrder[0]
		st.eventOrder = st.eventOrder[1:]
		delete(st.eventTiers, oldest)
	}
}

// resolveTier возвращает уровень события по его ссылке
func (st *entityState) resolveTier(eventRef string) (models.Tier, bool) {
	st.evMu.Lock()
	defer st.evMu.Unlock()
	tier, ok := st.eventTiers[eventRef]
	return tier, ok
}

// countSampleError учитывает ошибку выборки в метриках и логе
func (e *Engine) countSampleError(entityID string, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidSample):
		metrics.InvalidSamples.Inc()
		e.logger.Warn("invalid sample dropped", zap.String("entity", entityID), zap.Error(err))
	case errors.Is(err, models.ErrOutOfOrderSample):
		metrics.OutOfOrderSamples.Inc()
		e.logger.Warn("out of order sample rejected", zap.String("entity", entityID), zap.Error(err))
	}
}

// publish отправляет события в канал, вытесняя старейшее при переполнении
func (e *Engine) publish(events []models.Event) {
	if len(events) == 0 {
		return
	}

	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	// Закрытие канала сериализовано тем же замком
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return
	}

	for _, ev := range events {
		select {
		case e.events <- ev:
		default:
			select {
			case <-e.events:
				metrics.EventsDropped.Inc()
			default:
			}
			select {
			case e.events <- ev:
			default:
				metrics.EventsDropped.Inc()
			}
		}
	}
}

// RecordOutcome записывает подтвержденный исход события.
// Идемпотентна по eventRef; исход для неизвестной сущности дает no-op
// с предупреждением. Обработка отложенная и не блокирует оценку.
func (e *Engine) RecordOutcome(entityID, eventRef string, label models.OutcomeLabel) error {
	if !label.Valid() {
		return fmt.Errorf("unknown outcome label %q", label)
	}

	e.mu.RLock()
	st, ok := e.states[entityID]
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return models.ErrEngineClosed
	}

	// Уровень разрешается по индексу событий; неизвестная ссылка
	// трактуется как умеренный уровень с предупреждением
	tier := models.TierModerate
	if ok {
		if resolved, found := st.resolveTier(eventRef); found {
			tier = resolved
		} else {
			e.logger.Warn("outcome references unknown event",
				zap.String("entity", entityID),
				zap.String("event", eventRef))
		}
	}

	metrics.OutcomesRecorded.WithLabelValues(string(label)).Inc()
	e.loop.Submit(learning.Outcome{
		EntityID: entityID,
		EventRef: eventRef,
		Tier:     tier,
		Label:    label,
	})
	return nil
}

// Profile возвращает read-only снимок профиля сущности
func (e *Engine) Profile(entityID string) (models.ProfileSnapshot, error) {
	e.mu.RLock()
	st := e.states[entityID]
	e.mu.RUnlock()

	openCrisis := st != nil && st.crisisOpen.Load()

	var snap models.ProfileSnapshot
	err := e.store.WithExisting(entityID, func(p *profile.Profile) error {
		snap = p.Snapshot(openCrisis)
		return nil
	})
	return snap, err
}

// PredictRisk возвращает вероятность кризиса по памяти шаблонов
func (e *Engine) PredictRisk(entityID string, fi float64, channels map[string]float64) (float64, error) {
	var risk float64
	err := e.store.WithExisting(entityID, func(p *profile.Profile) error {
		risk = p.PredictRisk(fi, e.filterChannels(channels))
		return nil
	})
	return risk, err
}

// Status возвращает агрегированное состояние движка
func (e *Engine) Status() models.EngineStatus {
	e.mu.RLock()
	open := 0
	for _, st := range e.states {
		if st.crisisOpen.Load() {
			open++
		}
	}
	e.mu.RUnlock()

	obs := e.observations.Load()
	rate := 0.0
	if obs > 0 {
		rate = float64(e.interventions.Load()) / float64(obs)
	}

	status := models.EngineStatus{
		ActiveEntities:   e.store.Len(),
		OpenCrises:       open,
		InterventionRate: rate,
	}
	metrics.UpdateStatus(status.ActiveEntities, status.OpenCrises, status.InterventionRate)
	return status
}

// ResetEntity отменяет ожидающие выдержки и очищает окно сущности.
// Открытый кризис закрывается без создания CrisisRecord события.
func (e *Engine) ResetEntity(entityID string) error {
	e.mu.RLock()
	st, ok := e.states[entityID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownEntity, entityID)
	}

	return e.store.With(entityID, func(p *profile.Profile) error {
		st.machine.Reset()
		st.win.Reset()
		st.crisisOpen.Store(false)
		st.prevSeries = nil
		st.prevFI = 0
		st.hasPrev = false
		return nil
	})
}

// ExportProfile возвращает сериализуемый документ профиля
func (e *Engine) ExportProfile(entityID string) (models.ProfileExport, error) {
	var exp models.ProfileExport
	err := e.store.WithExisting(entityID, func(p *profile.Profile) error {
		exp = p.Export()
		return nil
	})
	return exp, err
}

// ImportProfile восстанавливает профиль из экспорта, мигрируя старые схемы
func (e *Engine) ImportProfile(exp models.ProfileExport) error {
	if exp.EntityID == "" {
		return fmt.Errorf("%w: export has no entity id", models.ErrUnknownEntity)
	}
	if err := models.MigrateExport(&exp); err != nil {
		return err
	}

	return e.store.With(exp.EntityID, func(p *profile.Profile) error {
		p.Restore(exp)
		return nil
	})
}

// RecoverProfile заменяет поврежденный профиль свежим, сохраняя
// старый для офлайн-разбора
func (e *Engine) RecoverProfile(entityID string) {
	old := e.store.Replace(entityID)
	if old != nil {
		e.logger.Error("profile corrupted, replaced with a fresh one",
			zap.String("entity", entityID),
			zap.Uint64("stale_last_ts", old.LastTimestamp()))
	}
}

// SweepInactive явно выселяет профили, неактивные до cutoff, и
// возвращает их экспорты. Во время активной оценки не вызывается.
func (e *Engine) SweepInactive(cutoff uint64) []models.ProfileExport {
	exports := e.store.SweepInactive(cutoff)

	e.mu.Lock()
	for _, exp := range exports {
		delete(e.states, exp.EntityID)
	}
	e.mu.Unlock()

	return exports
}

// Close останавливает цикл обучения и закрывает канал событий
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.loop.Stop()

	e.eventsMu.Lock()
	close(e.events)
	e.eventsMu.Unlock()
}
