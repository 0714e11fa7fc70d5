package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"openplay-matchmaking/models"
)

// SaveParticipant добавляет или обновляет участника ростера
func (s *RedisStorage) SaveParticipant(ctx context.Context, participant *models.Participant) error {
	participantJSON, err := json.Marshal(participant)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	// Порядок регистрации задается временем первого добавления
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.participantKey(participant.ID), participantJSON, 0)
		pipe.ZAddNX(ctx, rosterKey, &redis.Z{
			Score:  float64(time.Now().UnixNano()),
			Member: participant.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save participant: %w", err)
	}

	s.logger.Info("Participant saved",
		zap.String("participant_id", participant.ID),
		zap.String("status", string(participant.Status)),
	)
	return nil
}

// GetParticipant возвращает участника по ID
func (s *RedisStorage) GetParticipant(ctx context.Context, participantID string) (*models.Participant, error) {
	participantJSON, err := s.client.Get(ctx, s.participantKey(participantID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: participant %s", ErrNotFound, participantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}

	var participant models.Participant
	if err := json.Unmarshal([]byte(participantJSON), &participant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant: %w", err)
	}
	return &participant, nil
}

// ListParticipants возвращает ростер в порядке регистрации
func (s *RedisStorage) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	ids, err := s.client.ZRange(ctx, rosterKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list roster: %w", err)
	}
	if len(ids) == 0 {
		return []models.Participant{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.participantKey(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}

	participants := make([]models.Participant, 0, len(values))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			continue
		}
		var participant models.Participant
		if err := json.Unmarshal([]byte(data), &participant); err != nil {
			s.logger.Warn("Failed to unmarshal participant",
				zap.String("participant_id", ids[i]),
				zap.Error(err),
			)
			continue
		}
		participants = append(participants, participant)
	}

	return participants, nil
}

// SetParticipantStatus меняет статус участника в ростере
func (s *RedisStorage) SetParticipantStatus(ctx context.Context, participantID string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	return s.updateStatus(ctx, participantID, status)
}

// updateStatus записывает статус в транзакции WATCH/MULTI; переход в READY обновляет ReadyTime
func (s *RedisStorage) updateStatus(ctx context.Context, participantID string, status models.Status) error {
	key := s.participantKey(participantID)
	return s.transact(ctx, func(tx *redis.Tx) error {
		participantJSON, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return fmt.Errorf("%w: participant %s", ErrNotFound, participantID)
		}
		if err != nil {
			return fmt.Errorf("failed to get participant: %w", err)
		}

		var participant models.Participant
		if err := json.Unmarshal([]byte(participantJSON), &participant); err != nil {
			return fmt.Errorf("failed to unmarshal participant: %w", err)
		}
		if status == models.StatusReady && participant.Status != models.StatusReady {
			participant.ReadyTime = time.Now().UTC()
		}
		participant.Status = status

		updated, err := json.Marshal(participant)
		if err != nil {
			return fmt.Errorf("failed to marshal participant: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
}

// PublishStatusOverride сохраняет ручную смену статуса в ростере и рассылает ее всем экземплярам сервиса
func (s *RedisStorage) PublishStatusOverride(ctx context.Context, override models.StatusOverride) error {
	if !override.Status.Valid() {
		return fmt.Errorf("unknown status %q", override.Status)
	}
	payload, err := json.Marshal(override)
	if err != nil {
		return fmt.Errorf("failed to marshal status override: %w", err)
	}

	if err := s.updateStatus(ctx, override.ParticipantID, override.Status); err != nil {
		return err
	}
	if err := s.client.Publish(ctx, statusOverrideChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish status override: %w", err)
	}

	s.logger.Info("Status override published",
		zap.String("participant_id", override.ParticipantID),
		zap.String("status", string(override.Status)),
	)
	return nil
}

// ConsumeStatusOverrides читает рассылку ручных смен статуса до отмены контекста
func (s *RedisStorage) ConsumeStatusOverrides(ctx context.Context, handle func(models.StatusOverride) error) error {
	sub := s.client.Subscribe(ctx, statusOverrideChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to status overrides: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var override models.StatusOverride
			if err := json.Unmarshal([]byte(msg.Payload), &override); err != nil {
				s.logger.Warn("Failed to unmarshal status override",
					zap.String("data", msg.Payload),
					zap.Error(err),
				)
				continue
			}
			if err := handle(override); err != nil {
				s.logger.Warn("Status override rejected",
					zap.String("participant_id", override.ParticipantID),
					zap.String("status", string(override.Status)),
					zap.Error(err),
				)
			}
		}
	}
}
