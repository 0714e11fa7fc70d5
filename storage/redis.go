package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Ошибки хранилища. Оркестратор классифицирует по ним причину сбоя удаленного вызова.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyAssigned = errors.New("participant is already assigned to a match")
	ErrTeamFull        = errors.New("team is full")
	ErrMatchExists     = errors.New("court already has an active match")
	ErrConflict        = errors.New("concurrent modification")
)

const (
	matchesKey            = "matches"
	rosterKey             = "roster"
	statusOverrideChannel = "roster:status_overrides"
	maxTxRetries          = 3
)

// RedisStorage хранилище матчей и ростера сессии в Redis
type RedisStorage struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStorage создает новое хранилище Redis
func NewRedisStorage(addr string, password string, db int, logger *zap.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageFromClient(client, logger), nil
}

// NewRedisStorageFromClient оборачивает готовый клиент
func NewRedisStorageFromClient(client *redis.Client, logger *zap.Logger) *RedisStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStorage{
		client: client,
		logger: logger,
	}
}

// Close закрывает соединение с Redis
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// transact выполняет оптимистичную транзакцию WATCH/MULTI с повтором при конфликте
func (s *RedisStorage) transact(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if err == redis.TxFailedErr {
			s.logger.Debug("Redis transaction conflict, retrying",
				zap.Strings("keys", keys),
				zap.Int("attempt", i+1),
			)
			continue
		}
		return err
	}
	return fmt.Errorf("%w: keys %v", ErrConflict, keys)
}

// matchKey возвращает ключ записи матча
func (s *RedisStorage) matchKey(matchID string) string {
	return fmt.Sprintf("match:%s", matchID)
}

// matchTeamKey возвращает ключ состава команды матча
func (s *RedisStorage) matchTeamKey(matchID, team string) string {
	return fmt.Sprintf("match:%s:team:%s", matchID, team)
}

// courtActiveKey возвращает ключ активного матча корта
func (s *RedisStorage) courtActiveKey(courtID string) string {
	return fmt.Sprintf("court:%s:active_match", courtID)
}

// playerMatchKey возвращает ключ привязки участника к матчу
func (s *RedisStorage) playerMatchKey(participantID string) string {
	return fmt.Sprintf("player:%s:match", participantID)
}

// participantKey возвращает ключ записи участника
func (s *RedisStorage) participantKey(participantID string) string {
	return fmt.Sprintf("participant:%s", participantID)
}
