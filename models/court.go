package models

import "fmt"

// CourtStatus открыт ли корт для новых назначений
type CourtStatus string

const (
	CourtOpen   CourtStatus = "Open"
	CourtClosed CourtStatus = "Closed"
)

// Court физический корт
type Court struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Capacity int         `json:"capacity"` // Всего мест в обеих командах, четное число
	Status   CourtStatus `json:"status"`
}

// PerTeam количество мест в одной команде
func (c Court) PerTeam() int {
	return c.Capacity / 2
}

// Team сторона корта
type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

// ParseTeam разбирает обозначение команды
func ParseTeam(value string) (Team, error) {
	switch value {
	case "A", "a":
		return TeamA, nil
	case "B", "b":
		return TeamB, nil
	default:
		return "", fmt.Errorf("unknown team %q", value)
	}
}

// Valid проверяет, что команда A или B
func (t Team) Valid() bool {
	return t == TeamA || t == TeamB
}

// CourtTeams составы команд на корте (идентификаторы участников в порядке посадки)
type CourtTeams struct {
	TeamA []string `json:"team_a"`
	TeamB []string `json:"team_b"`
}

// Clone делает глубокую копию составов
func (t CourtTeams) Clone() CourtTeams {
	return CourtTeams{
		TeamA: append([]string(nil), t.TeamA...),
		TeamB: append([]string(nil), t.TeamB...),
	}
}

// Total общее количество занятых мест
func (t CourtTeams) Total() int {
	return len(t.TeamA) + len(t.TeamB)
}

// Members возвращает состав указанной команды
func (t CourtTeams) Members(team Team) []string {
	if team == TeamB {
		return t.TeamB
	}
	return t.TeamA
}

// All возвращает всех посаженных участников: сначала A, затем B
func (t CourtTeams) All() []string {
	all := make([]string, 0, t.Total())
	all = append(all, t.TeamA...)
	return append(all, t.TeamB...)
}

// Find ищет участника в составах
func (t CourtTeams) Find(participantID string) (Team, bool) {
	for _, id := range t.TeamA {
		if id == participantID {
			return TeamA, true
		}
	}
	for _, id := range t.TeamB {
		if id == participantID {
			return TeamB, true
		}
	}
	return "", false
}

// Add сажает участника в конец команды
func (t *CourtTeams) Add(team Team, participantID string) {
	if team == TeamB {
		t.TeamB = append(t.TeamB, participantID)
		return
	}
	t.TeamA = append(t.TeamA, participantID)
}

// Remove убирает участника из команды, возвращает false если его там не было
func (t *CourtTeams) Remove(team Team, participantID string) bool {
	members := t.TeamA
	if team == TeamB {
		members = t.TeamB
	}
	for i, id := range members {
		if id != participantID {
			continue
		}
		rest := make([]string, 0, len(members)-1)
		rest = append(rest, members[:i]...)
		rest = append(rest, members[i+1:]...)
		if team == TeamB {
			t.TeamB = rest
		} else {
			t.TeamA = rest
		}
		return true
	}
	return false
}
