package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"openplay-matchmaking/models"
	"openplay-matchmaking/storage"
)

type fakeSeat struct {
	matchID string
	team    models.Team
}

// fakeMatchStore хранилище матчей в памяти. Хуки вызываются до основной логики
// и могут вернуть ошибку или заблокироваться.
type fakeMatchStore struct {
	mu      sync.Mutex
	nextID  int
	active  map[string]string
	matches map[string]*models.Match
	order   []string
	seats   map[string]fakeSeat
	calls   map[string]int

	assignHook func(ctx context.Context, matchID, participantID string, team models.Team) error
	removeHook func(ctx context.Context, participantID string) error
	phaseHook  func(ctx context.Context, matchID string, phase models.MatchStatus) error
	listErr    error
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{
		active:  make(map[string]string),
		matches: make(map[string]*models.Match),
		seats:   make(map[string]fakeSeat),
		calls:   make(map[string]int),
	}
}

func (f *fakeMatchStore) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeMatchStore) seatOf(participantID string) (fakeSeat, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seat, ok := f.seats[participantID]
	return seat, ok
}

func (f *fakeMatchStore) seatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seats)
}

func (f *fakeMatchStore) match(matchID string) models.Match {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.matches[matchID]
}

func (f *fakeMatchStore) CreateMatch(ctx context.Context, courtID, teamAName, teamBName string, requiredPlayers int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create"]++

	if id, ok := f.active[courtID]; ok {
		return "", fmt.Errorf("%w: %s", storage.ErrMatchExists, id)
	}
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	f.matches[id] = &models.Match{
		ID:              id,
		CourtID:         courtID,
		TeamAName:       teamAName,
		TeamBName:       teamBName,
		Status:          models.MatchScheduled,
		RequiredPlayers: requiredPlayers,
		CreatedAt:       time.Unix(int64(f.nextID), 0),
	}
	f.order = append(f.order, id)
	f.active[courtID] = id
	return id, nil
}

func (f *fakeMatchStore) FindActiveMatchForCourt(ctx context.Context, courtID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["find"]++
	return f.active[courtID], nil
}

func (f *fakeMatchStore) AssignPlayerToTeam(ctx context.Context, matchID, participantID string, team models.Team) error {
	f.mu.Lock()
	f.calls["assign"]++
	hook := f.assignHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, matchID, participantID, team); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.matches[matchID]; !ok {
		return fmt.Errorf("%w: match %s", storage.ErrNotFound, matchID)
	}
	if _, ok := f.seats[participantID]; ok {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyAssigned, participantID)
	}
	f.seats[participantID] = fakeSeat{matchID: matchID, team: team}
	return nil
}

func (f *fakeMatchStore) RemovePlayerFromMatch(ctx context.Context, participantID string) error {
	f.mu.Lock()
	f.calls["remove"]++
	hook := f.removeHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, participantID); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seats[participantID]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, participantID)
	}
	delete(f.seats, participantID)
	return nil
}

func (f *fakeMatchStore) SetMatchPhase(ctx context.Context, matchID string, phase models.MatchStatus, update models.PhaseUpdate) error {
	f.mu.Lock()
	f.calls["phase"]++
	hook := f.phaseHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, matchID, phase); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	match, ok := f.matches[matchID]
	if !ok {
		return fmt.Errorf("%w: match %s", storage.ErrNotFound, matchID)
	}
	match.Status = phase
	if phase == models.MatchCompleted {
		match.Winner = update.Winner
		match.Score = update.Score
		match.EndedAt = update.EndedAt
		for id, seat := range f.seats {
			if seat.matchID == matchID {
				delete(f.seats, id)
			}
		}
		if f.active[match.CourtID] == matchID {
			delete(f.active, match.CourtID)
		}
	}
	return nil
}

func (f *fakeMatchStore) ListMatches(ctx context.Context) ([]models.MatchSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list"]++

	if f.listErr != nil {
		return nil, f.listErr
	}
	summaries := make([]models.MatchSummary, 0, len(f.order))
	for _, id := range f.order {
		m := f.matches[id]
		summaries = append(summaries, models.MatchSummary{
			ID:        m.ID,
			CourtID:   m.CourtID,
			Status:    m.Status,
			CreatedAt: m.CreatedAt,
		})
	}
	return summaries, nil
}

func (f *fakeMatchStore) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["get"]++

	match, ok := f.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: match %s", storage.ErrNotFound, matchID)
	}
	copied := *match
	return &copied, nil
}

func (f *fakeMatchStore) TeamMembers(ctx context.Context, matchID string, team models.Team) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["members"]++

	members := make([]string, 0)
	for id, seat := range f.seats {
		if seat.matchID == matchID && seat.team == team {
			members = append(members, id)
		}
	}
	sort.Strings(members)
	return members, nil
}

// fakeRosterStore ростер в памяти
type fakeRosterStore struct {
	mu       sync.Mutex
	statuses map[string]models.Status
	calls    int

	hook func(ctx context.Context, participantID string, status models.Status) error
}

func newFakeRosterStore() *fakeRosterStore {
	return &fakeRosterStore{statuses: make(map[string]models.Status)}
}

func (f *fakeRosterStore) status(participantID string) models.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[participantID]
}

func (f *fakeRosterStore) SetParticipantStatus(ctx context.Context, participantID string, status models.Status) error {
	f.mu.Lock()
	f.calls++
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, participantID, status); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[participantID] = status
	return nil
}
