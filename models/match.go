package models

import "time"

// MatchStatus этап жизненного цикла матча
type MatchStatus string

const (
	MatchScheduled  MatchStatus = "Scheduled"
	MatchInProgress MatchStatus = "InProgress"
	MatchCompleted  MatchStatus = "Completed"
)

// Match матч на корте. Создается как "оболочка" до посадки игроков.
type Match struct {
	ID              string      `json:"id"`
	CourtID         string      `json:"court_id"`
	TeamAName       string      `json:"team_a_name,omitempty"`
	TeamBName       string      `json:"team_b_name,omitempty"`
	Status          MatchStatus `json:"status"`
	RequiredPlayers int         `json:"required_players"`
	Winner          Team        `json:"winner,omitempty"` // Только для Completed
	Score           string      `json:"score,omitempty"`  // Только для Completed
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	EndedAt         *time.Time  `json:"ended_at,omitempty"`
}

// MatchSummary краткая запись матча из списка удаленного хранилища
type MatchSummary struct {
	ID        string      `json:"id"`
	CourtID   string      `json:"court_id"`
	Status    MatchStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// PhaseUpdate данные, сопровождающие смену этапа матча
type PhaseUpdate struct {
	StartedAt *time.Time
	EndedAt   *time.Time
	Winner    Team
	Score     string
}

// StatusOverride ручная смена статуса участника, разосланная хранилищем ростера
type StatusOverride struct {
	ParticipantID string `json:"participant_id"`
	Status        Status `json:"status"`
}
