package service

import (
	"sort"

	"openplay-matchmaking/models"
)

// BuildTeams делит пул на две команды, близкие по сумме уровней.
// Игроки сортируются по убыванию уровня (стабильно) и раздаются по очереди A, B, A, B...
// Когда одна команда набрала perTeam, все остальные идут в другую, даже сверх perTeam.
// Пул не обрезается: вызывающая сторона сама подбирает не больше 2*perTeam игроков.
func BuildTeams(pool []models.Participant, perTeam int) (teamA, teamB []models.Participant) {
	teamA = make([]models.Participant, 0, perTeam)
	teamB = make([]models.Participant, 0, perTeam)
	if perTeam <= 0 {
		return teamA, teamB
	}

	sorted := make([]models.Participant, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SkillScore() > sorted[j].SkillScore()
	})

	turnA := true
	for _, p := range sorted {
		switch {
		case len(teamA) >= perTeam:
			teamB = append(teamB, p)
		case len(teamB) >= perTeam:
			teamA = append(teamA, p)
		case turnA:
			teamA = append(teamA, p)
		default:
			teamB = append(teamB, p)
		}
		turnA = !turnA
	}

	return teamA, teamB
}

// SkillSum сумма уровней команды
func SkillSum(team []models.Participant) int {
	sum := 0
	for _, p := range team {
		sum += p.SkillScore()
	}
	return sum
}
