// Package archive реализует хранение экспортов профилей в Redis
// Архив обеспечивает перенос персонализации между сессиями: профили
// сохраняются периодически и загружаются при старте сервиса
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"fracture-monitor/internal/models"
)

const (
	// ProfileKeyPrefix префикс ключей экспортов профилей
	ProfileKeyPrefix = "profile:"
	// ProfileIndexKey ключ множества известных сущностей
	ProfileIndexKey = "profiles:index"
	// RecentScoresKey ключ списка последних оценок
	RecentScoresKey = "scores:recent"
	// RecentScoresLimit предел списка последних оценок
	RecentScoresLimit = 999
	// ProfileTTL время жизни экспорта профиля
	ProfileTTL = 30 * 24 * time.Hour
)

// RedisArchive архив профилей и счетчиков в Redis
type RedisArchive struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisArchive создает подключение к Redis
func NewRedisArchive(addr, password string, db int) (*RedisArchive, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisArchive{
		client: client,
		ctx:    ctx,
	}, nil
}

// SaveProfile сохраняет экспорт профиля и регистрирует сущность в индексе
func (r *RedisArchive) SaveProfile(exp models.ProfileExport) error {
	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("failed to marshal profile export: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(r.ctx, ProfileKeyPrefix+exp.EntityID, data, ProfileTTL)
	pipe.SAdd(r.ctx, ProfileIndexKey, exp.EntityID)

	if _, err = pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to archive profile: %w", err)
	}
	return nil
}

// LoadProfile загружает экспорт профиля сущности.
// Возвращает (nil, nil), если профиль не архивировался.
func (r *RedisArchive) LoadProfile(entityID string) (*models.ProfileExport, error) {
	data, err := r.client.Get(r.ctx, ProfileKeyPrefix+entityID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var exp models.ProfileExport
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("corrupt profile export for %s: %w", entityID, err)
	}
	return &exp, nil
}

// EntityIDs возвращает идентификаторы всех архивированных сущностей
func (r *RedisArchive) EntityIDs() ([]string, error) {
	ids, err := r.client.SMembers(r.ctx, ProfileIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read profile index: %w", err)
	}
	return ids, nil
}

// DeleteProfile удаляет экспорт профиля из архива
func (r *RedisArchive) DeleteProfile(entityID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(r.ctx, ProfileKeyPrefix+entityID)
	pipe.SRem(r.ctx, ProfileIndexKey, entityID)

	_, err := pipe.Exec(r.ctx)
	return err
}

// PushScore добавляет оценку в список последних
func (r *RedisArchive) PushScore(score models.FractureScore) error {
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.LPush(r.ctx, RecentScoresKey, data)
	pipe.LTrim(r.ctx, RecentScoresKey, 0, RecentScoresLimit)

	_, err = pipe.Exec(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to push score: %w", err)
	}
	return nil
}

// RecentScores возвращает последние N оценок
func (r *RedisArchive) RecentScores(count int64) ([]models.FractureScore, error) {
	data, err := r.client.LRange(r.ctx, RecentScoresKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent scores: %w", err)
	}

	scores := make([]models.FractureScore, 0, len(data))
	for _, d := range data {
		var s models.FractureScore
		if err := json.Unmarshal([]byte(d), &s); err != nil {
			continue
		}
		scores = append(scores, s)
	}
	return scores, nil
}

// IncrementCounter увеличивает глобальный счетчик
func (r *RedisArchive) IncrementCounter(key string) (int64, error) {
	return r.client.Incr(r.ctx, key).Result()
}

// GetCounter возвращает значение глобального счетчика
func (r *RedisArchive) GetCounter(key string) (int64, error) {
	val, err := r.client.Get(r.ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// Ping проверяет соединение с Redis
func (r *RedisArchive) Ping() error {
	return r.client.Ping(r.ctx).Err()
}

// Close закрывает соединение
func (r *RedisArchive) Close() error {
	return r.client.Close()
}
