package models

import "errors"

// Ошибки пути оценки и обучения. Ни одна из них не фатальна для процесса:
// путь оценки деградирует, цикл обучения изолирует сбои по сущностям.
var (
	// ErrInvalidSample канал содержит нечисловое или вышедшее за диапазон значение
	ErrInvalidSample = errors.New("invalid sample value")
	// ErrOutOfOrderSample временная метка не больше последней принятой
	ErrOutOfOrderSample = errors.New("out of order sample")
	// ErrUnknownEntity исход записан для сущности без профиля
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrThresholdBand адаптация вывела бы порог за пределы защитной полосы
	ErrThresholdBand = errors.New("threshold outside safety band")
	// ErrSchemaVersion версия схемы экспорта не поддерживается
	ErrSchemaVersion = errors.New("unsupported export schema version")
	// ErrEngineClosed движок остановлен
	ErrEngineClosed = errors.New("engine is closed")
)
