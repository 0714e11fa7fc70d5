package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"openplay-matchmaking/models"
)

// lockCourt сериализует команды одного корта. Второй одновременный вызов получает ErrCourtBusy.
func (o *Orchestrator) lockCourt(courtID string) (func(), error) {
	key := "court:" + courtID
	if !o.inflight.TryAcquire(key) {
		return nil, fmt.Errorf("%w: %s", ErrCourtBusy, courtID)
	}
	return func() { o.inflight.Release(key) }, nil
}

// lockParticipants занимает всех посаженных игроков корта, чтобы их не перемещали во время команды
func (o *Orchestrator) lockParticipants(courtID string, participantIDs []string) (func(), error) {
	acquired := make([]string, 0, len(participantIDs))
	release := func() {
		for _, id := range acquired {
			o.inflight.Release(id)
		}
	}
	for _, id := range participantIDs {
		if !o.inflight.TryAcquire(id) {
			release()
			return nil, fmt.Errorf("%w: participant %s is being moved on court %s", ErrCourtBusy, id, courtID)
		}
		acquired = append(acquired, id)
	}
	return release, nil
}

// CreateMatch создает оболочку матча для корта
func (o *Orchestrator) CreateMatch(ctx context.Context, courtID, teamAName, teamBName string) (*models.Match, error) {
	unlock, err := o.lockCourt(courtID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	court, err := o.board.Court(courtID)
	if err != nil {
		return nil, err
	}
	if err := court.createMatchErr(); err != nil {
		return nil, err
	}

	var matchID string
	if err := o.call(ctx, "create_match", func(ctx context.Context) error {
		id, err := o.matches.CreateMatch(ctx, courtID, teamAName, teamBName, court.Court.Capacity)
		matchID = id
		return err
	}); err != nil {
		return nil, err
	}

	match := models.Match{
		ID:              matchID,
		CourtID:         courtID,
		TeamAName:       teamAName,
		TeamBName:       teamBName,
		Status:          models.MatchScheduled,
		RequiredPlayers: court.Court.Capacity,
		CreatedAt:       o.now(),
	}
	if err := o.board.update(courtID, func(s *CourtMatchState) error {
		return s.CreateMatch(match)
	}); err != nil {
		return nil, err
	}

	o.logger.Info("Match created",
		zap.String("court_id", courtID),
		zap.String("match_id", matchID),
	)
	return &match, nil
}

// StartGame Scheduled -> InProgress. Требует полного состава обеих команд.
func (o *Orchestrator) StartGame(ctx context.Context, courtID string) error {
	unlock, err := o.lockCourt(courtID)
	if err != nil {
		return err
	}
	defer unlock()

	court, err := o.board.Court(courtID)
	if err != nil {
		return err
	}
	if err := court.startGameErr(); err != nil {
		return err
	}
	seated := court.Teams.All()
	release, err := o.lockParticipants(courtID, seated)
	if err != nil {
		return err
	}
	defer release()

	matchID := court.ActiveMatchID()
	at := o.now()
	if err := o.call(ctx, "set_match_phase", func(ctx context.Context) error {
		return o.matches.SetMatchPhase(ctx, matchID, models.MatchInProgress, models.PhaseUpdate{StartedAt: &at})
	}); err != nil {
		return err
	}

	if err := o.commit(seated, func() error {
		var players []string
		if err := o.board.update(courtID, func(s *CourtMatchState) error {
			started, err := s.StartGame(at)
			players = started
			return err
		}); err != nil {
			return err
		}
		for _, id := range players {
			if err := o.registry.seat(id, models.StatusInGame); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		undo := []undoFunc{func(ctx context.Context) error {
			return o.call(ctx, "set_match_phase", func(ctx context.Context) error {
				return o.matches.SetMatchPhase(ctx, matchID, models.MatchScheduled, models.PhaseUpdate{})
			})
		}}
		if undoErr := o.compensate(ctx, undo); undoErr != nil {
			return o.escalate(err, undoErr)
		}
		return err
	}

	o.logger.Info("Game started",
		zap.String("court_id", courtID),
		zap.String("match_id", matchID),
	)
	return nil
}

// EndGame InProgress -> Completed. Игроки уходят в RESTING, счетчик игр растет, составы очищаются.
// Сыгравшими считаются только те, кто сидел на корте в момент вызова; посаженные во время
// смены этапа в хранилище возвращаются в READY.
func (o *Orchestrator) EndGame(ctx context.Context, courtID string, winner models.Team, score string) (*models.Match, error) {
	unlock, err := o.lockCourt(courtID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	court, err := o.board.Court(courtID)
	if err != nil {
		return nil, err
	}
	if err := court.endGameErr(winner); err != nil {
		return nil, err
	}
	played := court.Teams.All()
	release, err := o.lockParticipants(courtID, played)
	if err != nil {
		return nil, err
	}
	defer release()

	matchID := court.ActiveMatchID()
	at := o.now()
	if err := o.call(ctx, "set_match_phase", func(ctx context.Context) error {
		return o.matches.SetMatchPhase(ctx, matchID, models.MatchCompleted, models.PhaseUpdate{
			EndedAt: &at,
			Winner:  winner,
			Score:   score,
		})
	}); err != nil {
		return nil, err
	}

	var (
		ended     []string
		late      []string
		completed models.Match
	)
	if err := o.commit(played, func() error {
		if err := o.board.update(courtID, func(s *CourtMatchState) error {
			unseated, err := s.EndGame(winner, score, at)
			ended = unseated
			if err == nil {
				completed = *s.Match
			}
			return err
		}); err != nil {
			return err
		}
		o.registry.finishGame(played)
		late = missingFrom(ended, played)
		for _, id := range late {
			if err := o.registry.SetStatus(id, models.StatusReady); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		// Участники заблокированы, значит локально матч не мог измениться
		o.logger.Error("Match completed remotely but not locally",
			zap.String("court_id", courtID),
			zap.String("match_id", matchID),
			zap.Error(err),
		)
		return nil, err
	}

	for _, id := range played {
		o.pushStatus(ctx, id, models.StatusResting)
	}
	for _, id := range late {
		o.logger.Warn("Participant seated while the game was ending, returned to READY",
			zap.String("participant_id", id),
			zap.String("court_id", courtID),
		)
		o.pushStatus(ctx, id, models.StatusReady)
	}

	o.logger.Info("Game ended",
		zap.String("court_id", courtID),
		zap.String("match_id", matchID),
		zap.String("winner", string(winner)),
		zap.String("score", score),
		zap.Int("players", len(played)),
	)
	return &completed, nil
}

// missingFrom возвращает элементы ids, которых нет в known
func missingFrom(ids, known []string) []string {
	set := make(map[string]struct{}, len(known))
	for _, id := range known {
		set[id] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// RemovePlayer снимает участника с команды и возвращает его в READY. Статус матча не меняется.
func (o *Orchestrator) RemovePlayer(ctx context.Context, courtID string, team models.Team, participantID string) (MoveResult, error) {
	if !o.inflight.TryAcquire(participantID) {
		return o.ignored(participantID)
	}
	defer o.inflight.Release(participantID)

	court, err := o.board.Court(courtID)
	if err != nil {
		return o.failed(participantID, err)
	}
	if err := court.removePlayerErr(team, participantID); err != nil {
		return o.failed(participantID, err)
	}

	matchID := court.ActiveMatchID()
	var undo []undoFunc

	if err := o.removeRemote(ctx, participantID); err != nil {
		return o.failed(participantID, o.rollback(ctx, undo, err))
	}
	undo = append(undo, o.reassignRemote(matchID, participantID, team))

	if err := o.commit([]string{participantID}, func() error {
		if err := o.board.update(courtID, func(s *CourtMatchState) error {
			return s.RemovePlayer(team, participantID)
		}); err != nil {
			return err
		}
		return o.registry.SetStatus(participantID, models.StatusReady)
	}); err != nil {
		return o.failed(participantID, o.rollback(ctx, undo, err))
	}

	o.pushStatus(ctx, participantID, models.StatusReady)

	o.logger.Info("Participant removed from court",
		zap.String("participant_id", participantID),
		zap.String("court_id", courtID),
		zap.String("team", string(team)),
	)
	return o.committed(participantID)
}

// ToggleCourtOpen открывает или закрывает корт
func (o *Orchestrator) ToggleCourtOpen(courtID string) (models.CourtStatus, error) {
	unlock, err := o.lockCourt(courtID)
	if err != nil {
		return "", err
	}
	defer unlock()

	var status models.CourtStatus
	if err := o.board.update(courtID, func(s *CourtMatchState) error {
		next, err := s.ToggleOpen()
		status = next
		return err
	}); err != nil {
		return status, err
	}

	o.logger.Info("Court status changed",
		zap.String("court_id", courtID),
		zap.String("status", string(status)),
	)
	return status, nil
}

// ApplyStatusOverride применяет ручную смену статуса из ростера.
// Посаженный участник может переключаться только между IN-GAME и BENCH,
// остальные только между очередями.
func (o *Orchestrator) ApplyStatusOverride(override models.StatusOverride) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	if err := o.overrideErr(override); err != nil {
		return err
	}
	if override.Status.IsSeated() {
		return o.registry.seat(override.ParticipantID, override.Status)
	}
	return o.registry.SetStatus(override.ParticipantID, override.Status)
}

// CheckStatusOverride проверяет ручную смену статуса, не применяя ее
func (o *Orchestrator) CheckStatusOverride(override models.StatusOverride) error {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.overrideErr(override)
}

func (o *Orchestrator) overrideErr(override models.StatusOverride) error {
	if !override.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, override.Status)
	}
	if _, err := o.registry.Get(override.ParticipantID); err != nil {
		return err
	}
	seated := o.board.IsSeated(override.ParticipantID)
	switch {
	case seated && !override.Status.IsSeated():
		return fmt.Errorf("%w: %s is seated, move it off the court first", ErrInvalidTransition, override.ParticipantID)
	case !seated && override.Status.IsSeated():
		return fmt.Errorf("%w: %q requires a court seat", ErrInvalidTransition, override.Status)
	}
	return nil
}

// LoadRoster загружает участников сессии. Статус IN-GAME/BENCH без места на корте сбрасывается в READY.
func (o *Orchestrator) LoadRoster(participants []models.Participant) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	for _, p := range participants {
		if p.Status.IsSeated() && !o.board.IsSeated(p.ID) {
			o.logger.Warn("Participant has a seated status without a seat, resetting to READY",
				zap.String("participant_id", p.ID),
				zap.String("status", string(p.Status)),
			)
			p.Status = models.StatusReady
		}
		if err := o.registry.Upsert(p); err != nil {
			return fmt.Errorf("failed to load participant %s: %w", p.ID, err)
		}
	}
	return nil
}

// RegisterParticipant добавляет нового участника в реестр сессии
func (o *Orchestrator) RegisterParticipant(p models.Participant) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	if _, err := o.registry.Get(p.ID); err == nil {
		return fmt.Errorf("%w: participant %s already registered", ErrInvalidTransition, p.ID)
	}
	if !p.Status.IsLane() {
		return fmt.Errorf("%w: new participant must start in a lane, got %q", ErrInvalidTransition, p.Status)
	}
	if err := o.registry.Upsert(p); err != nil {
		return err
	}

	o.logger.Info("Participant registered",
		zap.String("participant_id", p.ID),
		zap.String("skill_level", p.SkillLevel.String()),
	)
	return nil
}

// RefreshMatches сверяет кэш матчей с хранилищем и подхватывает активные матчи,
// созданные извне или до перезапуска, вместе с их составами
func (o *Orchestrator) RefreshMatches(ctx context.Context) error {
	summaries, err := o.listMatches(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, state := range o.board.Courts() {
		courtID := state.Court.ID
		latest, ok := latestActive(summaries, courtID)
		local := state.ActiveMatchID()

		switch {
		case local == "" && ok:
			if err := o.adoptRemoteMatch(ctx, courtID, latest.ID); err != nil {
				o.logger.Warn("Failed to adopt remote match",
					zap.String("court_id", courtID),
					zap.String("match_id", latest.ID),
					zap.Error(err),
				)
				errs = multierr.Append(errs, err)
			}
		case local != "" && (!ok || latest.ID != local):
			o.logger.Warn("Local match differs from remote store",
				zap.String("court_id", courtID),
				zap.String("local_match_id", local),
				zap.String("remote_match_id", latest.ID),
			)
		}
	}
	return errs
}

// adoptRemoteMatch загружает матч и составы его команд из хранилища и сажает
// зарегистрированных участников. Если у корта уже есть активный матч, ничего не меняет.
func (o *Orchestrator) adoptRemoteMatch(ctx context.Context, courtID, matchID string) error {
	var match *models.Match
	if err := o.call(ctx, "get_match", func(ctx context.Context) error {
		m, err := o.matches.GetMatch(ctx, matchID)
		match = m
		return err
	}); err != nil {
		return err
	}
	if match.Status == models.MatchCompleted {
		return fmt.Errorf("%w: match %s is already completed", ErrNoActiveMatch, matchID)
	}

	var remote models.CourtTeams
	for _, team := range []models.Team{models.TeamA, models.TeamB} {
		var members []string
		if err := o.call(ctx, "team_members", func(ctx context.Context) error {
			ids, err := o.matches.TeamMembers(ctx, matchID, team)
			members = ids
			return err
		}); err != nil {
			return err
		}
		sort.Strings(members)
		for _, id := range members {
			remote.Add(team, id)
		}
	}

	var (
		seated  []string
		adopted bool
	)
	err := o.commit(remote.All(), func() error {
		if o.board.ActiveMatchID(courtID) != "" {
			return nil
		}

		var teams models.CourtTeams
		for _, team := range []models.Team{models.TeamA, models.TeamB} {
			for _, id := range remote.Members(team) {
				if _, err := o.registry.Get(id); err != nil {
					o.logger.Warn("Remote match member is not in the roster",
						zap.String("match_id", matchID),
						zap.String("participant_id", id),
					)
					continue
				}
				if o.board.IsSeated(id) {
					o.logger.Warn("Remote match member is already seated on another court",
						zap.String("match_id", matchID),
						zap.String("participant_id", id),
					)
					continue
				}
				teams.Add(team, id)
			}
		}

		if err := o.board.update(courtID, func(s *CourtMatchState) error {
			s.adoptMatch(*match)
			s.Teams = teams
			return nil
		}); err != nil {
			return err
		}
		adopted = true
		seated = teams.All()
		for _, id := range seated {
			if err := o.registry.seat(id, models.StatusInGame); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || !adopted {
		return err
	}

	o.logger.Info("Adopted remote match",
		zap.String("court_id", courtID),
		zap.String("match_id", matchID),
		zap.Int("seated", len(seated)),
	)
	return nil
}
