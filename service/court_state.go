package service

import (
	"fmt"
	"time"

	"openplay-matchmaking/models"
)

// CourtPhase состояние корта относительно матча
type CourtPhase string

const (
	PhaseNoMatch    CourtPhase = "NoMatch"
	PhaseScheduled  CourtPhase = "Scheduled"
	PhaseInProgress CourtPhase = "InProgress"
	PhaseCompleted  CourtPhase = "Completed"
)

// CourtMatchState конечный автомат одного корта: текущий матч и составы команд.
// Методы не потокобезопасны, конкурентный доступ обеспечивает Board через copy-modify-swap.
type CourtMatchState struct {
	Court   models.Court
	Teams   models.CourtTeams
	Match   *models.Match  // Текущий матч; завершенный остается до создания следующего
	History []models.Match // Завершенные матчи корта
}

// NewCourtMatchState создает корт без матча
func NewCourtMatchState(court models.Court) *CourtMatchState {
	return &CourtMatchState{Court: court}
}

// Phase вычисляет состояние по текущему матчу
func (s *CourtMatchState) Phase() CourtPhase {
	if s.Match == nil {
		return PhaseNoMatch
	}
	switch s.Match.Status {
	case models.MatchScheduled:
		return PhaseScheduled
	case models.MatchInProgress:
		return PhaseInProgress
	default:
		return PhaseCompleted
	}
}

// Clone глубокая копия состояния
func (s *CourtMatchState) Clone() *CourtMatchState {
	clone := &CourtMatchState{
		Court:   s.Court,
		Teams:   s.Teams.Clone(),
		History: append([]models.Match(nil), s.History...),
	}
	if s.Match != nil {
		m := *s.Match
		clone.Match = &m
	}
	return clone
}

// ActiveMatchID идентификатор незавершенного матча или пустая строка
func (s *CourtMatchState) ActiveMatchID() string {
	switch s.Phase() {
	case PhaseScheduled, PhaseInProgress:
		return s.Match.ID
	}
	return ""
}

func (s *CourtMatchState) createMatchErr() error {
	if s.Court.Status == models.CourtClosed {
		return fmt.Errorf("%w: %s", ErrCourtClosed, s.Court.ID)
	}
	switch s.Phase() {
	case PhaseScheduled, PhaseInProgress:
		return fmt.Errorf("%w: court %s, match %s", ErrDuplicateMatch, s.Court.ID, s.Match.ID)
	}
	return nil
}

// CreateMatch NoMatch (или Completed) -> Scheduled
func (s *CourtMatchState) CreateMatch(match models.Match) error {
	if err := s.createMatchErr(); err != nil {
		return err
	}
	match.CourtID = s.Court.ID
	match.Status = models.MatchScheduled
	s.Match = &match
	return nil
}

// adoptMatch принимает оболочку матча, найденную в удаленном хранилище
func (s *CourtMatchState) adoptMatch(match models.Match) {
	if s.ActiveMatchID() != "" {
		return
	}
	match.CourtID = s.Court.ID
	if match.Status == "" || match.Status == models.MatchCompleted {
		match.Status = models.MatchScheduled
	}
	if match.RequiredPlayers == 0 {
		match.RequiredPlayers = s.Court.Capacity
	}
	s.Match = &match
}

func (s *CourtMatchState) startGameErr() error {
	if s.Phase() != PhaseScheduled {
		return fmt.Errorf("%w: cannot start game from %s", ErrInvalidTransition, s.Phase())
	}
	if s.Court.Status == models.CourtClosed {
		return fmt.Errorf("%w: %s", ErrCourtClosed, s.Court.ID)
	}
	if s.Teams.Total() != s.Court.Capacity || len(s.Teams.TeamA) == 0 || len(s.Teams.TeamB) == 0 {
		return fmt.Errorf("%w: %d of %d seats taken", ErrIncompleteRoster, s.Teams.Total(), s.Court.Capacity)
	}
	return nil
}

// StartGame Scheduled -> InProgress. Возвращает посаженных участников.
func (s *CourtMatchState) StartGame(at time.Time) ([]string, error) {
	if err := s.startGameErr(); err != nil {
		return nil, err
	}
	s.Match.Status = models.MatchInProgress
	s.Match.StartedAt = &at
	return s.Teams.All(), nil
}

func (s *CourtMatchState) endGameErr(winner models.Team) error {
	if s.Phase() != PhaseInProgress {
		return fmt.Errorf("%w: cannot end game from %s", ErrInvalidTransition, s.Phase())
	}
	if !winner.Valid() {
		return fmt.Errorf("%w: winner must be A or B, got %q", ErrInvalidTransition, winner)
	}
	return nil
}

// EndGame InProgress -> Completed. Очищает составы и возвращает тех, кто играл.
func (s *CourtMatchState) EndGame(winner models.Team, score string, at time.Time) ([]string, error) {
	if err := s.endGameErr(winner); err != nil {
		return nil, err
	}
	players := s.Teams.All()

	s.Match.Status = models.MatchCompleted
	s.Match.Winner = winner
	s.Match.Score = score
	s.Match.EndedAt = &at
	s.History = append(s.History, *s.Match)
	s.Teams = models.CourtTeams{}

	return players, nil
}

// ToggleOpen переключает Open <-> Closed. Закрыть корт с идущей игрой нельзя.
// Закрытие не выгоняет уже посаженных игроков.
func (s *CourtMatchState) ToggleOpen() (models.CourtStatus, error) {
	if s.Court.Status == models.CourtClosed {
		s.Court.Status = models.CourtOpen
		return s.Court.Status, nil
	}
	if !s.CanCloseCourt() {
		return s.Court.Status, fmt.Errorf("%w: court %s has a game in progress", ErrInvalidTransition, s.Court.ID)
	}
	s.Court.Status = models.CourtClosed
	return s.Court.Status, nil
}

func (s *CourtMatchState) removePlayerErr(team models.Team, participantID string) error {
	switch s.Phase() {
	case PhaseScheduled, PhaseInProgress:
	default:
		return fmt.Errorf("%w: cannot remove players from %s", ErrInvalidTransition, s.Phase())
	}
	if seatedTeam, ok := s.Teams.Find(participantID); !ok || seatedTeam != team {
		return fmt.Errorf("%w: %s on %s/%s", ErrNotSeated, participantID, s.Court.ID, team)
	}
	return nil
}

// RemovePlayer убирает участника из команды. Статус матча не меняется, даже если команда опустела.
func (s *CourtMatchState) RemovePlayer(team models.Team, participantID string) error {
	if err := s.removePlayerErr(team, participantID); err != nil {
		return err
	}
	s.Teams.Remove(team, participantID)
	return nil
}

// seatErr проверяет, можно ли посадить участника в команду.
// Если участник уже сидит на этом корте, его текущее место не считается занятым.
func (s *CourtMatchState) seatErr(team models.Team, participantID string) error {
	if s.Court.Status == models.CourtClosed {
		return fmt.Errorf("%w: %s", ErrCourtClosed, s.Court.ID)
	}
	total := s.Teams.Total()
	teamCount := len(s.Teams.Members(team))
	if seatedTeam, ok := s.Teams.Find(participantID); ok {
		total--
		if seatedTeam == team {
			teamCount--
		}
	}
	if total >= s.Court.Capacity {
		return fmt.Errorf("%w: court %s has %d of %d seats taken", ErrCapacityExceeded, s.Court.ID, total, s.Court.Capacity)
	}
	if teamCount >= s.Court.PerTeam() {
		return fmt.Errorf("%w: team %s on court %s is full", ErrCapacityExceeded, team, s.Court.ID)
	}
	return nil
}

// AddPlayer сажает участника в команду активного матча
func (s *CourtMatchState) AddPlayer(team models.Team, participantID string) error {
	if s.ActiveMatchID() == "" {
		return fmt.Errorf("%w: %s", ErrNoActiveMatch, s.Court.ID)
	}
	if err := s.seatErr(team, participantID); err != nil {
		return err
	}
	if seatedTeam, ok := s.Teams.Find(participantID); ok {
		s.Teams.Remove(seatedTeam, participantID)
	}
	s.Teams.Add(team, participantID)
	return nil
}

// CanStartGame можно ли сейчас начать игру
func (s *CourtMatchState) CanStartGame() bool {
	return s.startGameErr() == nil
}

// CanEndGame идет ли игра, которую можно завершить
func (s *CourtMatchState) CanEndGame() bool {
	return s.Phase() == PhaseInProgress
}

// CanCloseCourt корт открыт и на нем не идет игра
func (s *CourtMatchState) CanCloseCourt() bool {
	return s.Court.Status == models.CourtOpen && s.Phase() != PhaseInProgress
}
