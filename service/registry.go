package service

import (
	"fmt"
	"sync"
	"time"

	"openplay-matchmaking/models"
)

// SeatIndex отвечает, сидит ли участник на каком-либо корте
type SeatIndex interface {
	IsSeated(participantID string) bool
}

// StatusRegistry хранит статусы участников сессии.
// SetStatus никогда не переводит участника в IN-GAME или BENCH: это делает только
// оркестратор вместе с посадкой на корт.
type StatusRegistry struct {
	mu           sync.RWMutex
	participants map[string]*models.Participant
	order        []string // Порядок регистрации, определяет порядок в очередях
	seats        SeatIndex
	now          func() time.Time
}

// NewStatusRegistry создает реестр. seats может быть nil, тогда никто не считается посаженным.
func NewStatusRegistry(seats SeatIndex) *StatusRegistry {
	return &StatusRegistry{
		participants: make(map[string]*models.Participant),
		seats:        seats,
		now:          time.Now,
	}
}

// Upsert добавляет или заменяет участника
func (r *StatusRegistry) Upsert(p models.Participant) error {
	if p.ID == "" {
		return fmt.Errorf("%w: participant id is empty", ErrInvalidTransition)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, p.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[p.ID]; !exists {
		r.order = append(r.order, p.ID)
	}
	stored := p
	r.participants[p.ID] = &stored
	return nil
}

// Get возвращает копию участника
func (r *StatusRegistry) Get(participantID string) (models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[participantID]
	if !ok {
		return models.Participant{}, fmt.Errorf("%w: %s", ErrParticipantNotFound, participantID)
	}
	return *p, nil
}

// Status возвращает текущий статус участника
func (r *StatusRegistry) Status(participantID string) (models.Status, error) {
	p, err := r.Get(participantID)
	if err != nil {
		return "", err
	}
	return p.Status, nil
}

// SetStatus переводит участника в одну из очередей
func (r *StatusRegistry) SetStatus(participantID string, status models.Status) error {
	if !status.IsLane() {
		return fmt.Errorf("%w: %q requires a court seat", ErrInvalidTransition, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setLocked(participantID, status)
}

// MembersWithStatus возвращает участников со статусом в порядке регистрации,
// исключая тех, кто уже сидит на корте
func (r *StatusRegistry) MembersWithStatus(status models.Status) []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]models.Participant, 0)
	for _, id := range r.order {
		p := r.participants[id]
		if p.Status != status {
			continue
		}
		if r.seats != nil && r.seats.IsSeated(id) {
			continue
		}
		members = append(members, *p)
	}
	return members
}

// All возвращает всех участников в порядке регистрации
func (r *StatusRegistry) All() []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]models.Participant, 0, len(r.order))
	for _, id := range r.order {
		all = append(all, *r.participants[id])
	}
	return all
}

// seat выставляет IN-GAME или BENCH. Вызывается только вместе с изменением составов.
func (r *StatusRegistry) seat(participantID string, status models.Status) error {
	if !status.IsSeated() {
		return fmt.Errorf("%w: %q is not a seated status", ErrInvalidTransition, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setLocked(participantID, status)
}

// finishGame переводит сыгравших в RESTING и увеличивает счетчик игр
func (r *StatusRegistry) finishGame(participantIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range participantIDs {
		p, ok := r.participants[id]
		if !ok {
			continue
		}
		p.Status = models.StatusResting
		p.GamesPlayed++
	}
}

func (r *StatusRegistry) setLocked(participantID string, status models.Status) error {
	p, ok := r.participants[participantID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrParticipantNotFound, participantID)
	}
	if status == models.StatusReady && p.Status != models.StatusReady {
		p.ReadyTime = r.now()
	}
	p.Status = status
	return nil
}

// snapshot копирует перечисленных участников. Неизвестные идентификаторы пропускаются.
func (r *StatusRegistry) snapshot(participantIDs []string) map[string]models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]models.Participant, len(participantIDs))
	for _, id := range participantIDs {
		if p, ok := r.participants[id]; ok {
			snap[id] = *p
		}
	}
	return snap
}

// restore возвращает участников из снимка. Участники, добавленные после снимка, не трогаются.
func (r *StatusRegistry) restore(snap map[string]models.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range snap {
		stored := p
		r.participants[id] = &stored
	}
}
