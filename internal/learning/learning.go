// Package learning реализует антихрупкий цикл обучения на исходах
// Подтвержденные исходы перестраивают персональные пороги и память
// шаблонов; цикл отвязан от пути оценки и никогда его не блокирует
package learning

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"fracture-monitor/internal/metrics"
	"fracture-monitor/internal/models"
	"fracture-monitor/internal/profile"
)

// Outcome задание цикла обучения: подтвержденный исход события
type Outcome struct {
	EntityID string
	EventRef string
	Tier     models.Tier
	Label    models.OutcomeLabel
}

// Loop очередь и воркеры обработки исходов.
// Сбой обновления одного профиля изолирован и не блокирует остальные.
type Loop struct {
	store  *profile.Store
	logger *zap.Logger

	outcomes chan Outcome
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewLoop создает цикл обучения поверх хранилища профилей
func NewLoop(store *profile.Store, bufferSize int, logger *zap.Logger) *Loop {
	return &Loop{
		store:    store,
		logger:   logger.Named("learning"),
		outcomes: make(chan Outcome, bufferSize),
		stopChan: make(chan struct{}),
	}
}

// Start запускает воркеров обработки исходов
func (l *Loop) Start(numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
}

// worker горутина обработки очереди исходов
func (l *Loop) worker() {
	defer l.wg.Done()
	for {
		select {
		case o := <-l.outcomes:
			l.apply(o)
		case <-l.stopChan:
			return
		}
	}
}

// Submit ставит исход в очередь. При переполненной очереди исход
// применяется синхронно: исходы не теряются никогда.
func (l *Loop) Submit(o Outcome) bool {
	select {
	case l.outcomes <- o:
		return true
	default:
		l.apply(o)
		return false
	}
}

// ApplySync применяет исход синхронно, минуя очередь
func (l *Loop) ApplySync(o Outcome) {
	l.apply(o)
}

// apply применяет один исход под замком профиля сущности
func (l *Loop) apply(o Outcome) {
	if !o.Label.Valid() {
		l.logger.Warn("ignoring outcome with unknown label",
			zap.String("entity", o.EntityID),
			zap.String("label", string(o.Label)))
		return
	}

	err := l.store.WithExisting(o.EntityID, func(p *profile.Profile) error {
		if !p.MarkEventSeen(o.EventRef) {
			// Повторная метка того же события дает no-op
			return nil
		}
		return p.ApplyOutcome(o.EventRef, o.Tier, o.Label)
	})

	switch {
	case err == nil:

	case errors.Is(err, models.ErrThresholdBand):
		// Исход применен, но шаг адаптации прижат защитной полосой
		metrics.ThresholdBandClamps.Inc()
		l.logger.Warn("learned threshold clamped to safety band",
			zap.String("entity", o.EntityID),
			zap.String("tier", string(o.Tier)),
			zap.Error(err))

	case errors.Is(err, models.ErrUnknownEntity):
		// Исход для сущности без профиля дает предупреждение, не сбой
		l.logger.Warn("outcome for unknown entity dropped",
			zap.String("entity", o.EntityID),
			zap.String("event", o.EventRef))

	default:
		l.logger.Error("failed to apply outcome",
			zap.String("entity", o.EntityID),
			zap.Error(err))
	}
}

// Drain дожидается применения всех исходов в очереди
func (l *Loop) Drain() {
	for {
		select {
		case o := <-l.outcomes:
			l.apply(o)
		default:
			return
		}
	}
}

// Stop останавливает воркеров, применив оставшиеся исходы
func (l *Loop) Stop() {
	close(l.stopChan)
	l.wg.Wait()
	l.Drain()
}
