package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"openplay-matchmaking/models"
)

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// CreateMatch создает оболочку матча и делает ее активной для корта
func (s *RedisStorage) CreateMatch(ctx context.Context, courtID, teamAName, teamBName string, requiredPlayers int) (string, error) {
	match := models.Match{
		ID:              uuid.New().String(),
		CourtID:         courtID,
		TeamAName:       teamAName,
		TeamBName:       teamBName,
		Status:          models.MatchScheduled,
		RequiredPlayers: requiredPlayers,
		CreatedAt:       time.Now().UTC(),
	}

	matchJSON, err := json.Marshal(match)
	if err != nil {
		return "", fmt.Errorf("failed to marshal match: %w", err)
	}

	activeKey := s.courtActiveKey(courtID)
	err = s.transact(ctx, func(tx *redis.Tx) error {
		activeID, err := tx.Get(ctx, activeKey).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to get active match: %w", err)
		}
		if activeID != "" {
			return fmt.Errorf("%w: court %s, match %s", ErrMatchExists, courtID, activeID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.matchKey(match.ID), matchJSON, 0)
			pipe.ZAdd(ctx, matchesKey, &redis.Z{
				Score:  float64(match.CreatedAt.UnixNano()),
				Member: match.ID,
			})
			pipe.Set(ctx, activeKey, match.ID, 0)
			return nil
		})
		return err
	}, activeKey)
	if err != nil {
		return "", err
	}

	s.logger.Info("Match created",
		zap.String("match_id", match.ID),
		zap.String("court_id", courtID),
		zap.Int("required_players", requiredPlayers),
	)

	return match.ID, nil
}

// FindActiveMatchForCourt возвращает активный матч корта или пустую строку
func (s *RedisStorage) FindActiveMatchForCourt(ctx context.Context, courtID string) (string, error) {
	matchID, err := s.client.Get(ctx, s.courtActiveKey(courtID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get active match: %w", err)
	}
	return matchID, nil
}

// GetMatch возвращает матч по ID
func (s *RedisStorage) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	return s.loadMatch(ctx, s.client, matchID)
}

// AssignPlayerToTeam сажает участника в команду матча
func (s *RedisStorage) AssignPlayerToTeam(ctx context.Context, matchID, participantID string, team models.Team) error {
	if !team.Valid() {
		return fmt.Errorf("unknown team %q", team)
	}

	matchKey := s.matchKey(matchID)
	linkKey := s.playerMatchKey(participantID)
	teamKey := s.matchTeamKey(matchID, string(team))

	err := s.transact(ctx, func(tx *redis.Tx) error {
		match, err := s.loadMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if match.Status == models.MatchCompleted {
			return fmt.Errorf("%w: match %s is completed", ErrNotFound, matchID)
		}

		linked, err := tx.Exists(ctx, linkKey).Result()
		if err != nil {
			return fmt.Errorf("failed to check player link: %w", err)
		}
		if linked > 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyAssigned, participantID)
		}

		count, err := tx.SCard(ctx, teamKey).Result()
		if err != nil {
			return fmt.Errorf("failed to count team: %w", err)
		}
		if perTeam := int64(match.RequiredPlayers / 2); perTeam > 0 && count >= perTeam {
			return fmt.Errorf("%w: match %s team %s", ErrTeamFull, matchID, team)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, teamKey, participantID)
			pipe.Set(ctx, linkKey, matchID+"|"+string(team), 0)
			return nil
		})
		return err
	}, matchKey, linkKey, teamKey)
	if err != nil {
		return err
	}

	s.logger.Info("Player assigned to team",
		zap.String("match_id", matchID),
		zap.String("participant_id", participantID),
		zap.String("team", string(team)),
	)
	return nil
}

// RemovePlayerFromMatch снимает участника с матча, в котором он состоит
func (s *RedisStorage) RemovePlayerFromMatch(ctx context.Context, participantID string) error {
	linkKey := s.playerMatchKey(participantID)

	err := s.transact(ctx, func(tx *redis.Tx) error {
		link, err := tx.Get(ctx, linkKey).Result()
		if err == redis.Nil {
			return fmt.Errorf("%w: %s is not in a match", ErrNotFound, participantID)
		}
		if err != nil {
			return fmt.Errorf("failed to get player link: %w", err)
		}

		matchID, team, ok := strings.Cut(link, "|")
		if !ok {
			return fmt.Errorf("malformed player link %q", link)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, s.matchTeamKey(matchID, team), participantID)
			pipe.Del(ctx, linkKey)
			return nil
		})
		return err
	}, linkKey)
	if err != nil {
		return err
	}

	s.logger.Info("Player removed from match",
		zap.String("participant_id", participantID),
	)
	return nil
}

// SetMatchPhase меняет этап матча. При завершении освобождает игроков и корт.
// Составы команд наблюдаются вместе с записью матча, чтобы посадка во время
// завершения не оставила привязку игрока к закрытому матчу.
func (s *RedisStorage) SetMatchPhase(ctx context.Context, matchID string, phase models.MatchStatus, update models.PhaseUpdate) error {
	matchKey := s.matchKey(matchID)

	err := s.transact(ctx, func(tx *redis.Tx) error {
		match, err := s.loadMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}

		match.Status = phase
		switch phase {
		case models.MatchScheduled:
			match.StartedAt = nil
		case models.MatchInProgress:
			if update.StartedAt != nil {
				match.StartedAt = update.StartedAt
			}
		case models.MatchCompleted:
			match.EndedAt = update.EndedAt
			match.Winner = update.Winner
			match.Score = update.Score
		default:
			return fmt.Errorf("unknown match phase %q", phase)
		}

		matchJSON, err := json.Marshal(match)
		if err != nil {
			return fmt.Errorf("failed to marshal match: %w", err)
		}

		var members []string
		activeID := ""
		if phase == models.MatchCompleted {
			for _, team := range []models.Team{models.TeamA, models.TeamB} {
				ids, err := tx.SMembers(ctx, s.matchTeamKey(matchID, string(team))).Result()
				if err != nil {
					return fmt.Errorf("failed to get team members: %w", err)
				}
				members = append(members, ids...)
			}
			activeID, err = tx.Get(ctx, s.courtActiveKey(match.CourtID)).Result()
			if err != nil && err != redis.Nil {
				return fmt.Errorf("failed to get active match: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, matchKey, matchJSON, 0)
			for _, id := range members {
				pipe.Del(ctx, s.playerMatchKey(id))
			}
			if activeID == matchID {
				pipe.Del(ctx, s.courtActiveKey(match.CourtID))
			}
			return nil
		})
		return err
	}, matchKey, s.matchTeamKey(matchID, string(models.TeamA)), s.matchTeamKey(matchID, string(models.TeamB)))
	if err != nil {
		return err
	}

	s.logger.Info("Match phase changed",
		zap.String("match_id", matchID),
		zap.String("phase", string(phase)),
	)
	return nil
}

// ListMatches возвращает все матчи в порядке создания
func (s *RedisStorage) ListMatches(ctx context.Context) ([]models.MatchSummary, error) {
	ids, err := s.client.ZRange(ctx, matchesKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	if len(ids) == 0 {
		return []models.MatchSummary{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.matchKey(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get matches: %w", err)
	}

	summaries := make([]models.MatchSummary, 0, len(values))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			continue
		}
		var match models.Match
		if err := json.Unmarshal([]byte(data), &match); err != nil {
			s.logger.Warn("Failed to unmarshal match",
				zap.String("match_id", ids[i]),
				zap.Error(err),
			)
			continue
		}
		summaries = append(summaries, models.MatchSummary{
			ID:        match.ID,
			CourtID:   match.CourtID,
			Status:    match.Status,
			CreatedAt: match.CreatedAt,
		})
	}

	return summaries, nil
}

// TeamMembers возвращает участников команды матча
func (s *RedisStorage) TeamMembers(ctx context.Context, matchID string, team models.Team) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.matchTeamKey(matchID, string(team))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get team members: %w", err)
	}
	return ids, nil
}

func (s *RedisStorage) loadMatch(ctx context.Context, c stringGetter, matchID string) (*models.Match, error) {
	matchJSON, err := c.Get(ctx, s.matchKey(matchID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	var match models.Match
	if err := json.Unmarshal([]byte(matchJSON), &match); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}
	return &match, nil
}
