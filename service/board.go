package service

import (
	"fmt"
	"sync"

	"openplay-matchmaking/models"
)

// TeamsSnapshot копия составов всех кортов для отката
type TeamsSnapshot map[string]models.CourtTeams

// Board владеет состоянием всех кортов. Изменения идут по схеме copy-modify-swap:
// читатель видит либо старое, либо новое состояние корта, но не промежуточное.
type Board struct {
	mu     sync.RWMutex
	courts map[string]*CourtMatchState
	order  []string
}

// NewBoard создает доску кортов в заданном порядке
func NewBoard(courts []models.Court) *Board {
	b := &Board{
		courts: make(map[string]*CourtMatchState, len(courts)),
	}
	for _, c := range courts {
		if _, exists := b.courts[c.ID]; exists {
			continue
		}
		b.courts[c.ID] = NewCourtMatchState(c)
		b.order = append(b.order, c.ID)
	}
	return b
}

// Court возвращает копию состояния корта
func (b *Board) Court(courtID string) (*CourtMatchState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state, ok := b.courts[courtID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCourtNotFound, courtID)
	}
	return state.Clone(), nil
}

// Courts возвращает копии всех кортов в исходном порядке
func (b *Board) Courts() []*CourtMatchState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	states := make([]*CourtMatchState, 0, len(b.order))
	for _, id := range b.order {
		states = append(states, b.courts[id].Clone())
	}
	return states
}

// IsSeated сидит ли участник на каком-либо корте
func (b *Board) IsSeated(participantID string) bool {
	_, _, ok := b.SeatOf(participantID)
	return ok
}

// SeatOf возвращает корт и команду участника
func (b *Board) SeatOf(participantID string) (string, models.Team, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, id := range b.order {
		if team, ok := b.courts[id].Teams.Find(participantID); ok {
			return id, team, true
		}
	}
	return "", "", false
}

// ActiveMatchID закэшированный идентификатор незавершенного матча корта
func (b *Board) ActiveMatchID(courtID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state, ok := b.courts[courtID]
	if !ok {
		return ""
	}
	return state.ActiveMatchID()
}

// Snapshot глубокая копия составов всех кортов
func (b *Board) Snapshot() TeamsSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := make(TeamsSnapshot, len(b.courts))
	for id, state := range b.courts {
		snap[id] = state.Teams.Clone()
	}
	return snap
}

// Restore заменяет составы всех кортов значениями из снимка
func (b *Board) Restore(snap TeamsSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, state := range b.courts {
		next := state.Clone()
		next.Teams = snap[id].Clone()
		b.courts[id] = next
	}
}

// update применяет fn к копии корта и подменяет состояние только при успехе
func (b *Board) update(courtID string, fn func(*CourtMatchState) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.courts[courtID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCourtNotFound, courtID)
	}
	next := state.Clone()
	if err := fn(next); err != nil {
		return err
	}
	b.courts[courtID] = next
	return nil
}
