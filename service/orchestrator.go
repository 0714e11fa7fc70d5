package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"openplay-matchmaking/models"
)

// OrchestratorConfig конфигурация оркестратора
type OrchestratorConfig struct {
	RemoteTimeout time.Duration // Таймаут одного удаленного вызова
}

// DefaultOrchestratorConfig возвращает конфигурацию по умолчанию
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		RemoteTimeout: 5 * time.Second,
	}
}

// RequestState итог запроса на перемещение
type RequestState string

const (
	RequestIgnored    RequestState = "ignored" // Дубликат: участник уже перемещается
	RequestCommitted  RequestState = "committed"
	RequestRolledBack RequestState = "rolled_back"
)

// MoveResult результат перемещения участника
type MoveResult struct {
	ParticipantID string       `json:"participant_id"`
	State         RequestState `json:"state"`
}

// AutoMatchResult результат автоматического подбора на корт
type AutoMatchResult struct {
	CourtID string               `json:"court_id"`
	MatchID string               `json:"match_id"`
	TeamA   []models.Participant `json:"team_a"`
	TeamB   []models.Participant `json:"team_b"`
	State   RequestState         `json:"state"`
}

// Orchestrator координирует перемещения участников между очередями и кортами.
// Перемещения одного участника сериализуются через InFlightSet, разных участников идут параллельно.
// Локальное состояние меняется только в commit, после всех обязательных удаленных вызовов.
// При сбое удаленного вызова выполняется компенсация в хранилище, локально откатывать нечего.
type Orchestrator struct {
	registry *StatusRegistry
	board    *Board
	matches  MatchStore
	roster   RosterStore
	inflight *InFlightSet
	logger   *zap.Logger
	config   *OrchestratorConfig

	// stateMu сериализует фиксацию изменений board+registry
	stateMu sync.RWMutex
	now     func() time.Time
}

// NewOrchestrator создает оркестратор поверх реестра и доски кортов
func NewOrchestrator(registry *StatusRegistry, board *Board, matches MatchStore, roster RosterStore, logger *zap.Logger, config *OrchestratorConfig) *Orchestrator {
	if config == nil {
		config = DefaultOrchestratorConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		board:    board,
		matches:  matches,
		roster:   roster,
		inflight: NewInFlightSet(),
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// MoveToLane переводит участника в очередь. Если он сидит на корте, сначала снимает его с матча.
func (o *Orchestrator) MoveToLane(ctx context.Context, participantID string, lane models.Status) (MoveResult, error) {
	if !lane.IsLane() {
		return o.failed(participantID, fmt.Errorf("%w: %q is not a lane", ErrInvalidTransition, lane))
	}
	if !o.inflight.TryAcquire(participantID) {
		return o.ignored(participantID)
	}
	defer o.inflight.Release(participantID)

	p, err := o.registry.Get(participantID)
	if err != nil {
		return o.failed(participantID, err)
	}

	courtID, team, seated := o.board.SeatOf(participantID)
	if !seated {
		if p.Status == lane {
			return o.committed(participantID)
		}
		if err := o.setRemoteStatus(ctx, participantID, lane); err != nil {
			return o.failed(participantID, err)
		}
		undo := []undoFunc{o.restoreStatusRemote(participantID, p.Status)}
		if err := o.commit([]string{participantID}, func() error {
			return o.registry.SetStatus(participantID, lane)
		}); err != nil {
			return o.failed(participantID, o.rollback(ctx, undo, err))
		}
		o.logger.Info("Participant moved to lane",
			zap.String("participant_id", participantID),
			zap.String("lane", string(lane)),
		)
		return o.committed(participantID)
	}

	matchID := o.board.ActiveMatchID(courtID)
	var undo []undoFunc

	if err := o.removeRemote(ctx, participantID); err != nil {
		return o.failed(participantID, o.rollback(ctx, undo, err))
	}
	undo = append(undo, o.reassignRemote(matchID, participantID, team))

	if err := o.setRemoteStatus(ctx, participantID, lane); err != nil {
		return o.failed(participantID, o.rollback(ctx, undo, err))
	}
	undo = append(undo, o.restoreStatusRemote(participantID, p.Status))

	// Место освобождается вместе со сменой статуса, иначе участник оказался бы
	// одновременно в очереди и на корте
	if err := o.commit([]string{participantID}, func() error {
		return o.unseatLocked(courtID, team, participantID, lane)
	}); err != nil {
		return o.failed(participantID, o.rollback(ctx, undo, err))
	}

	o.logger.Info("Participant moved from court to lane",
		zap.String("participant_id", participantID),
		zap.String("court_id", courtID),
		zap.String("lane", string(lane)),
	)
	return o.committed(participantID)
}

// MoveToCourtSlot сажает участника в команду корта.
// Смена статуса в ростере после посадки не критична: ее сбой только логируется.
func (o *Orchestrator) MoveToCourtSlot(ctx context.Context, participantID, courtID string, team models.Team) (MoveResult, error) {
	if !team.Valid() {
		return o.failed(participantID, fmt.Errorf("%w: unknown team %q", ErrInvalidTransition, team))
	}
	if !o.inflight.TryAcquire(participantID) {
		return o.ignored(participantID)
	}
	defer o.inflight.Release(participantID)

	if _, err := o.registry.Get(participantID); err != nil {
		return o.failed(participantID, err)
	}
	court, err := o.board.Court(courtID)
	if err != nil {
		return o.failed(participantID, err)
	}

	fromCourt, fromTeam, seated := o.board.SeatOf(participantID)
	if seated && fromCourt == courtID && fromTeam == team {
		return o.committed(participantID)
	}
	if err := court.seatErr(team, participantID); err != nil {
		return o.failed(participantID, err)
	}

	var undo []undoFunc

	if seated {
		fromMatchID := o.board.ActiveMatchID(fromCourt)
		if err := o.removeRemote(ctx, participantID); err != nil {
			return o.failed(participantID, o.rollback(ctx, undo, err))
		}
		undo = append(undo, o.reassignRemote(fromMatchID, participantID, fromTeam))
	}

	matchID, err := o.resolveMatchID(ctx, courtID)
	if err != nil {
		return o.failed(participantID, o.rollback(ctx, undo, err))
	}

	if err := o.call(ctx, "assign_player_to_team", func(ctx context.Context) error {
		return o.matches.AssignPlayerToTeam(ctx, matchID, participantID, team)
	}); err != nil {
		return o.failed(participantID, o.rollback(ctx, undo, err))
	}
	undo = append(undo, o.unassignRemote(participantID))

	if err := o.commit([]string{participantID}, func() error {
		if seated && fromCourt != courtID {
			if err := o.board.update(fromCourt, func(s *CourtMatchState) error {
				if !s.Teams.Remove(fromTeam, participantID) {
					return fmt.Errorf("%w: %s on %s/%s", ErrNotSeated, participantID, fromCourt, fromTeam)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		if err := o.board.update(courtID, func(s *CourtMatchState) error {
			return s.AddPlayer(team, participantID)
		}); err != nil {
			return err
		}
		return o.registry.seat(participantID, models.StatusInGame)
	}); err != nil {
		return o.failed(participantID, o.rollback(ctx, undo, err))
	}

	o.pushStatus(ctx, participantID, models.StatusInGame)

	o.logger.Info("Participant seated",
		zap.String("participant_id", participantID),
		zap.String("court_id", courtID),
		zap.String("match_id", matchID),
		zap.String("team", string(team)),
	)
	return o.committed(participantID)
}

// AutoMatch заполняет свободные места корта готовыми игроками.
// Назначения в хранилище выполняются параллельно; итог сообщается одним пакетом.
func (o *Orchestrator) AutoMatch(ctx context.Context, courtID string) (*AutoMatchResult, error) {
	court, err := o.board.Court(courtID)
	if err != nil {
		return nil, err
	}
	if court.Court.Status == models.CourtClosed {
		return nil, fmt.Errorf("%w: %s", ErrCourtClosed, courtID)
	}
	seatedCount := court.Teams.Total()
	if seatedCount >= court.Court.Capacity {
		return nil, fmt.Errorf("%w: court %s is full", ErrCapacityExceeded, courtID)
	}
	needed := court.Court.Capacity - seatedCount

	eligible := make([]models.Participant, 0)
	for _, p := range o.registry.MembersWithStatus(models.StatusReady) {
		if !o.inflight.Contains(p.ID) {
			eligible = append(eligible, p)
		}
	}

	selected := make([]models.Participant, 0, needed)
	for _, p := range SelectPlayers(eligible, needed) {
		if !o.inflight.TryAcquire(p.ID) {
			continue
		}
		// Между выборкой и захватом участника могли посадить на другой корт
		current, err := o.registry.Get(p.ID)
		if err != nil || current.Status != models.StatusReady || o.board.IsSeated(p.ID) {
			o.inflight.Release(p.ID)
			continue
		}
		selected = append(selected, current)
	}
	defer func() {
		for _, p := range selected {
			o.inflight.Release(p.ID)
		}
	}()

	if len(selected) < 2 {
		return nil, fmt.Errorf("%w: %d ready for court %s", ErrInsufficientPlayers, len(selected), courtID)
	}

	perTeam := court.Court.PerTeam()
	teamA, teamB := BuildTeams(selected, perTeam)
	teamA, teamB = fitTeams(teamA, teamB, perTeam-len(court.Teams.TeamA), perTeam-len(court.Teams.TeamB))

	// Без матча ни одного назначения не делаем
	matchID, err := o.resolveMatchID(ctx, courtID)
	if err != nil {
		return nil, err
	}

	type seat struct {
		participantID string
		team          models.Team
	}
	seats := make([]seat, 0, len(teamA)+len(teamB))
	for _, p := range teamA {
		seats = append(seats, seat{p.ID, models.TeamA})
	}
	for _, p := range teamB {
		seats = append(seats, seat{p.ID, models.TeamB})
	}

	seatedIDs := make([]string, 0, len(seats))
	for _, s := range seats {
		seatedIDs = append(seatedIDs, s.participantID)
	}

	errs := make([]error, len(seats))
	var g errgroup.Group
	for i, s := range seats {
		g.Go(func() error {
			errs[i] = o.call(ctx, "assign_player_to_team", func(ctx context.Context) error {
				return o.matches.AssignPlayerToTeam(ctx, matchID, s.participantID, s.team)
			})
			return errs[i]
		})
	}

	waitErr := g.Wait()

	var undo []undoFunc
	for i, s := range seats {
		if errs[i] == nil {
			undo = append(undo, o.unassignRemote(s.participantID))
		}
	}
	if waitErr != nil {
		batchErr := multierr.Combine(errs...)
		o.logger.Warn("Auto match assignment failed",
			zap.String("court_id", courtID),
			zap.String("match_id", matchID),
			zap.Error(batchErr),
		)
		return nil, o.rollback(ctx, undo, batchErr)
	}

	if err := o.commit(seatedIDs, func() error {
		for _, s := range seats {
			if fromCourt, _, ok := o.board.SeatOf(s.participantID); ok {
				return fmt.Errorf("%w: %s is already seated on %s", ErrInvalidTransition, s.participantID, fromCourt)
			}
		}
		if err := o.board.update(courtID, func(state *CourtMatchState) error {
			for _, s := range seats {
				if err := state.AddPlayer(s.team, s.participantID); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		for _, s := range seats {
			if err := o.registry.seat(s.participantID, models.StatusInGame); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, o.rollback(ctx, undo, err)
	}

	for _, s := range seats {
		o.pushStatus(ctx, s.participantID, models.StatusInGame)
	}

	o.logger.Info("Auto match committed",
		zap.String("court_id", courtID),
		zap.String("match_id", matchID),
		zap.Int("team_a", len(teamA)),
		zap.Int("team_b", len(teamB)),
		zap.Int("skill_a", SkillSum(teamA)),
		zap.Int("skill_b", SkillSum(teamB)),
	)

	return &AutoMatchResult{
		CourtID: courtID,
		MatchID: matchID,
		TeamA:   teamA,
		TeamB:   teamB,
		State:   RequestCommitted,
	}, nil
}

// fitTeams переносит лишних игроков в другую команду, если на корте уже кто-то сидит
func fitTeams(teamA, teamB []models.Participant, freeA, freeB int) ([]models.Participant, []models.Participant) {
	for len(teamA) > freeA && len(teamA) > 0 {
		last := teamA[len(teamA)-1]
		teamA = teamA[:len(teamA)-1]
		teamB = append(teamB, last)
	}
	for len(teamB) > freeB && len(teamB) > 0 {
		last := teamB[len(teamB)-1]
		teamB = teamB[:len(teamB)-1]
		teamA = append(teamA, last)
	}
	return teamA, teamB
}

// resolveMatchID находит активный матч корта: кэш, затем хранилище, затем полный список матчей
func (o *Orchestrator) resolveMatchID(ctx context.Context, courtID string) (string, error) {
	if id := o.board.ActiveMatchID(courtID); id != "" {
		return id, nil
	}

	var matchID string
	if err := o.call(ctx, "find_active_match", func(ctx context.Context) error {
		id, err := o.matches.FindActiveMatchForCourt(ctx, courtID)
		matchID = id
		return err
	}); err != nil {
		return "", err
	}

	if matchID == "" {
		summaries, err := o.listMatches(ctx)
		if err != nil {
			return "", err
		}
		if latest, ok := latestActive(summaries, courtID); ok {
			matchID = latest.ID
		}
	}
	if matchID == "" {
		return "", fmt.Errorf("%w: %s", ErrNoActiveMatch, courtID)
	}

	if err := o.adoptRemoteMatch(ctx, courtID, matchID); err != nil {
		return "", err
	}
	if id := o.board.ActiveMatchID(courtID); id != "" {
		return id, nil
	}
	return matchID, nil
}

func (o *Orchestrator) listMatches(ctx context.Context) ([]models.MatchSummary, error) {
	var summaries []models.MatchSummary
	err := o.call(ctx, "list_matches", func(ctx context.Context) error {
		list, err := o.matches.ListMatches(ctx)
		summaries = list
		return err
	})
	return summaries, err
}

func latestActive(summaries []models.MatchSummary, courtID string) (models.MatchSummary, bool) {
	var latest models.MatchSummary
	found := false
	for _, m := range summaries {
		if m.CourtID != courtID || m.Status == models.MatchCompleted {
			continue
		}
		if !found || m.CreatedAt.After(latest.CreatedAt) {
			latest = m
			found = true
		}
	}
	return latest, found
}

// unseatLocked освобождает место и ставит статус очереди. Вызывается внутри commit.
func (o *Orchestrator) unseatLocked(courtID string, team models.Team, participantID string, lane models.Status) error {
	if err := o.board.update(courtID, func(s *CourtMatchState) error {
		if !s.Teams.Remove(team, participantID) {
			return fmt.Errorf("%w: %s on %s/%s", ErrNotSeated, participantID, courtID, team)
		}
		return nil
	}); err != nil {
		return err
	}
	return o.registry.SetStatus(participantID, lane)
}

type undoFunc func(ctx context.Context) error

// commit применяет fn к board и registry под stateMu. Перед вызовом снимаются составы
// всех кортов и записи участников из touched; если fn вернула ошибку, они восстанавливаются,
// так что изменение либо видно целиком, либо не видно вовсе.
// Другие писатели ждут stateMu, поэтому откат не задевает чужие перемещения.
func (o *Orchestrator) commit(touched []string, fn func() error) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	teams := o.board.Snapshot()
	participants := o.registry.snapshot(touched)
	if err := fn(); err != nil {
		o.board.Restore(teams)
		o.registry.restore(participants)
		return err
	}
	return nil
}

// rollback выполняет компенсации в обратном порядке.
// Если компенсация не удалась, ошибка поднимается как CauseUnknown с исходной причиной.
func (o *Orchestrator) rollback(ctx context.Context, undo []undoFunc, cause error) error {
	undoErr := o.compensate(ctx, undo)
	if undoErr == nil {
		return cause
	}
	return o.escalate(cause, undoErr)
}

func (o *Orchestrator) compensate(ctx context.Context, undo []undoFunc) error {
	// Компенсация должна выполниться даже если вызывающий уже отменил контекст
	compCtx := context.WithoutCancel(ctx)
	var undoErr error
	for i := len(undo) - 1; i >= 0; i-- {
		undoErr = multierr.Append(undoErr, undo[i](compCtx))
	}
	return undoErr
}

func (o *Orchestrator) escalate(cause, undoErr error) error {
	op := "rollback"
	var remoteErr *RemoteError
	if errors.As(cause, &remoteErr) {
		op = remoteErr.Op
	}
	o.logger.Error("Rollback failed, local and remote state may diverge",
		zap.String("op", op),
		zap.Error(cause),
		zap.NamedError("rollback_error", undoErr),
	)
	return &RemoteError{Op: op, Cause: CauseUnknown, Err: cause, RollbackErr: undoErr}
}

// call выполняет удаленный вызов с таймаутом и классифицирует ошибку
func (o *Orchestrator) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.config.RemoteTimeout)
	defer cancel()

	if err := fn(callCtx); err != nil {
		return newRemoteError(op, err)
	}
	return nil
}

func (o *Orchestrator) removeRemote(ctx context.Context, participantID string) error {
	return o.call(ctx, "remove_player_from_match", func(ctx context.Context) error {
		return o.matches.RemovePlayerFromMatch(ctx, participantID)
	})
}

func (o *Orchestrator) setRemoteStatus(ctx context.Context, participantID string, status models.Status) error {
	return o.call(ctx, "set_participant_status", func(ctx context.Context) error {
		return o.roster.SetParticipantStatus(ctx, participantID, status)
	})
}

func (o *Orchestrator) reassignRemote(matchID, participantID string, team models.Team) undoFunc {
	return func(ctx context.Context) error {
		if matchID == "" {
			return fmt.Errorf("%w: cannot restore seat of %s", ErrNoActiveMatch, participantID)
		}
		return o.call(ctx, "assign_player_to_team", func(ctx context.Context) error {
			return o.matches.AssignPlayerToTeam(ctx, matchID, participantID, team)
		})
	}
}

func (o *Orchestrator) restoreStatusRemote(participantID string, status models.Status) undoFunc {
	return func(ctx context.Context) error {
		return o.setRemoteStatus(ctx, participantID, status)
	}
}

func (o *Orchestrator) unassignRemote(participantID string) undoFunc {
	return func(ctx context.Context) error {
		return o.removeRemote(ctx, participantID)
	}
}

// pushStatus обновляет статус в ростере; сбой не откатывает уже выполненное действие
func (o *Orchestrator) pushStatus(ctx context.Context, participantID string, status models.Status) {
	if err := o.setRemoteStatus(ctx, participantID, status); err != nil {
		o.logger.Warn("Failed to update participant status in roster",
			zap.String("participant_id", participantID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) ignored(participantID string) (MoveResult, error) {
	o.logger.Debug("Move ignored, participant already in flight",
		zap.String("participant_id", participantID),
	)
	return MoveResult{ParticipantID: participantID, State: RequestIgnored}, nil
}

func (o *Orchestrator) committed(participantID string) (MoveResult, error) {
	return MoveResult{ParticipantID: participantID, State: RequestCommitted}, nil
}

func (o *Orchestrator) failed(participantID string, err error) (MoveResult, error) {
	return MoveResult{ParticipantID: participantID, State: RequestRolledBack}, err
}
