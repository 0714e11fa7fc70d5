package service

import (
	"context"

	"openplay-matchmaking/models"
)

// MatchStore удаленное хранилище матчей. Любой вызов может завершиться ошибкой или таймаутом.
type MatchStore interface {
	// FindActiveMatchForCourt возвращает пустую строку, если активного матча нет
	FindActiveMatchForCourt(ctx context.Context, courtID string) (string, error)
	AssignPlayerToTeam(ctx context.Context, matchID, participantID string, team models.Team) error
	RemovePlayerFromMatch(ctx context.Context, participantID string) error
	CreateMatch(ctx context.Context, courtID, teamAName, teamBName string, requiredPlayers int) (string, error)
	SetMatchPhase(ctx context.Context, matchID string, phase models.MatchStatus, update models.PhaseUpdate) error
	ListMatches(ctx context.Context) ([]models.MatchSummary, error)
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)
	TeamMembers(ctx context.Context, matchID string, team models.Team) ([]string, error)
}

// RosterStore удаленное хранилище ростера сессии
type RosterStore interface {
	SetParticipantStatus(ctx context.Context, participantID string, status models.Status) error
}
