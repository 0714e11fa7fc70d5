package service

import (
	"sort"

	"openplay-matchmaking/models"
)

// SelectPlayers выбирает needed игроков для автоматического подбора.
// Если кандидатов не больше needed, возвращает их без изменений.
// Иначе порядок: READY раньше остальных, меньше сыгранных игр, ниже уровень,
// раньше стал READY. Функция детерминирована.
func SelectPlayers(eligible []models.Participant, needed int) []models.Participant {
	if len(eligible) <= needed {
		return eligible
	}
	if needed <= 0 {
		return []models.Participant{}
	}

	ranked := make([]models.Participant, len(eligible))
	copy(ranked, eligible)
	sort.SliceStable(ranked, func(i, j int) bool {
		return rankBefore(ranked[i], ranked[j])
	})

	return ranked[:needed]
}

func rankBefore(a, b models.Participant) bool {
	aReady, bReady := a.Status == models.StatusReady, b.Status == models.StatusReady
	if aReady != bReady {
		return aReady
	}
	if a.GamesPlayed != b.GamesPlayed {
		return a.GamesPlayed < b.GamesPlayed
	}
	// Более низкий уровень выбирается раньше
	if a.SkillScore() != b.SkillScore() {
		return a.SkillScore() < b.SkillScore()
	}
	return a.ReadyTime.Before(b.ReadyTime)
}
