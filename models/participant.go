package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SkillLevel уровень игры участника. Значения упорядочены: чем выше, тем сильнее игрок.
type SkillLevel int

const (
	SkillBeginner SkillLevel = iota + 1
	SkillIntermediate
	SkillAdvanced
)

// String возвращает название уровня
func (s SkillLevel) String() string {
	switch s {
	case SkillBeginner:
		return "Beginner"
	case SkillIntermediate:
		return "Intermediate"
	case SkillAdvanced:
		return "Advanced"
	default:
		return fmt.Sprintf("SkillLevel(%d)", int(s))
	}
}

// ParseSkillLevel разбирает название уровня без учета регистра
func ParseSkillLevel(value string) (SkillLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "beginner":
		return SkillBeginner, nil
	case "intermediate":
		return SkillIntermediate, nil
	case "advanced":
		return SkillAdvanced, nil
	default:
		return 0, fmt.Errorf("unknown skill level %q", value)
	}
}

// MarshalText сериализует уровень в JSON как строку
func (s SkillLevel) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText разбирает уровень из строки
func (s *SkillLevel) UnmarshalText(text []byte) error {
	level, err := ParseSkillLevel(string(text))
	if err != nil {
		return err
	}
	*s = level
	return nil
}

// Status состояние участника в сессии. У участника всегда ровно один статус.
type Status string

const (
	StatusReady    Status = "READY"
	StatusResting  Status = "RESTING"
	StatusReserve  Status = "RESERVE"
	StatusWaitlist Status = "WAITLIST"
	StatusInGame   Status = "IN-GAME"
	StatusBench    Status = "BENCH"
)

// Lanes очереди вне корта в порядке отображения
var Lanes = []Status{StatusReady, StatusResting, StatusReserve, StatusWaitlist}

// Valid проверяет, что статус известен
func (s Status) Valid() bool {
	return s.IsLane() || s.IsSeated()
}

// IsLane возвращает true для статусов очередей (READY, RESTING, RESERVE, WAITLIST)
func (s Status) IsLane() bool {
	switch s {
	case StatusReady, StatusResting, StatusReserve, StatusWaitlist:
		return true
	}
	return false
}

// IsSeated возвращает true для статусов, требующих места на корте
func (s Status) IsSeated() bool {
	return s == StatusInGame || s == StatusBench
}

// Participant участник открытой игровой сессии
type Participant struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	SkillLevel  SkillLevel `json:"skill_level"`
	Status      Status     `json:"status"`
	GamesPlayed int        `json:"games_played"`
	ReadyTime   time.Time  `json:"ready_time"` // Время последнего перехода в READY
}

// NewParticipant создает нового участника в статусе READY
func NewParticipant(name string, skill SkillLevel) *Participant {
	return &Participant{
		ID:         uuid.New().String(),
		Name:       name,
		SkillLevel: skill,
		Status:     StatusReady,
		ReadyTime:  time.Now(),
	}
}

// SkillScore числовой ранг уровня игры
func (p Participant) SkillScore() int {
	return int(p.SkillLevel)
}
