package profile

import (
	"fmt"
	"sync"

	"fracture-monitor/internal/config"
	"fracture-monitor/internal/models"
)

// Store хранилище профилей, по одному на сущность.
// Доступ к профилю идет через With под замком сущности: путь оценки
// и цикл обучения никогда не видят профиль в промежуточном состоянии.
type Store struct {
	mu      sync.RWMutex
	cfg     *config.Domain
	entries map[string]*entry
}

// entry профиль с собственным замком сущности
type entry struct {
	mu      sync.Mutex
	profile *Profile
}

// NewStore создает пустое хранилище для домена
func NewStore(cfg *config.Domain) *Store {
	return &Store{
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
}

// With выполняет fn под замком профиля, создавая профиль при первом
// наблюдении сущности (double-checked locking)
func (s *Store) With(entityID string, fn func(*Profile) error) error {
	s.mu.RLock()
	e, ok := s.entries[entityID]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		e, ok = s.entries[entityID]
		if !ok {
			e = &entry{profile: NewProfile(entityID, s.cfg)}
			s.entries[entityID] = e
		}
		s.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.profile)
}

// WithExisting выполняет fn под замком профиля только если он существует.
// Для неизвестной сущности возвращает ErrUnknownEntity.
func (s *Store) WithExisting(entityID string, fn func(*Profile) error) error {
	s.mu.RLock()
	e, ok := s.entries[entityID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownEntity, entityID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.profile)
}

// Replace заменяет профиль сущности свежим, возвращая прежний.
// Используется при восстановлении из поврежденного импорта: старый
// профиль сохраняется для офлайн-разбора. Для неизвестной сущности
// ничего не делает: профили создаются только первым наблюдением.
func (s *Store) Replace(entityID string) *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entityID]
	if !ok {
		return nil
	}

	e.mu.Lock()
	old := e.profile
	e.profile = NewProfile(entityID, s.cfg)
	e.mu.Unlock()
	return old
}

// Len возвращает количество профилей
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// EntityIDs возвращает идентификаторы всех сущностей
func (s *Store) EntityIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// SweepInactive выселяет профили с последним наблюдением старше cutoff
// и возвращает их экспорты. Вызывается только явно; во время активной
// оценки профили не выселяются никогда.
func (s *Store) SweepInactive(cutoff uint64) []models.ProfileExport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exports []models.ProfileExport
	for id, e := range s.entries {
		e.mu.Lock()
		if e.profile.LastTimestamp() < cutoff {
			exports = append(exports, e.profile.Export())
			delete(s.entries, id)
		}
		e.mu.Unlock()
	}
	return exports
}
