package service

import (
	"fmt"

	"openplay-matchmaking/models"
)

// CourtView состояние корта для отображения оператору
type CourtView struct {
	Court         models.Court         `json:"court"`
	Phase         CourtPhase           `json:"phase"`
	Match         *models.Match        `json:"match,omitempty"`
	TeamA         []models.Participant `json:"team_a"`
	TeamB         []models.Participant `json:"team_b"`
	CanStartGame  bool                 `json:"can_start_game"`
	CanEndGame    bool                 `json:"can_end_game"`
	CanCloseCourt bool                 `json:"can_close_court"`
	History       []models.Match       `json:"history,omitempty"`
}

// Lane участники очереди без посаженных на корт
func (o *Orchestrator) Lane(status models.Status) ([]models.Participant, error) {
	if !status.IsLane() {
		return nil, fmt.Errorf("%w: %q is not a lane", ErrInvalidTransition, status)
	}
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.registry.MembersWithStatus(status), nil
}

// Lanes все четыре очереди одним согласованным снимком
func (o *Orchestrator) Lanes() map[models.Status][]models.Participant {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	lanes := make(map[models.Status][]models.Participant, len(models.Lanes))
	for _, lane := range models.Lanes {
		lanes[lane] = o.registry.MembersWithStatus(lane)
	}
	return lanes
}

// Courts состояние всех кортов с раскрытыми составами
func (o *Orchestrator) Courts() []CourtView {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	states := o.board.Courts()
	views := make([]CourtView, 0, len(states))
	for _, s := range states {
		views = append(views, CourtView{
			Court:         s.Court,
			Phase:         s.Phase(),
			Match:         s.Match,
			TeamA:         o.resolve(s.Teams.TeamA),
			TeamB:         o.resolve(s.Teams.TeamB),
			CanStartGame:  s.CanStartGame(),
			CanEndGame:    s.CanEndGame(),
			CanCloseCourt: s.CanCloseCourt(),
			History:       s.History,
		})
	}
	return views
}

// Participant возвращает участника по идентификатору
func (o *Orchestrator) Participant(participantID string) (models.Participant, error) {
	return o.registry.Get(participantID)
}

// CanStartGame можно ли начать игру на корте
func (o *Orchestrator) CanStartGame(courtID string) bool {
	s, err := o.board.Court(courtID)
	return err == nil && s.CanStartGame()
}

// CanEndGame идет ли на корте игра
func (o *Orchestrator) CanEndGame(courtID string) bool {
	s, err := o.board.Court(courtID)
	return err == nil && s.CanEndGame()
}

// CanCloseCourt можно ли закрыть корт
func (o *Orchestrator) CanCloseCourt(courtID string) bool {
	s, err := o.board.Court(courtID)
	return err == nil && s.CanCloseCourt()
}

func (o *Orchestrator) resolve(ids []string) []models.Participant {
	participants := make([]models.Participant, 0, len(ids))
	for _, id := range ids {
		if p, err := o.registry.Get(id); err == nil {
			participants = append(participants, p)
		}
	}
	return participants
}
