package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openplay-matchmaking/models"
)

type seatSet map[string]bool

func (s seatSet) IsSeated(participantID string) bool {
	return s[participantID]
}

func newTestRegistry(t *testing.T, seats SeatIndex, participants ...models.Participant) *StatusRegistry {
	t.Helper()
	r := NewStatusRegistry(seats)
	for _, p := range participants {
		require.NoError(t, r.Upsert(p))
	}
	return r
}

func TestStatusRegistry_SetStatusAcceptsLanes(t *testing.T) {
	r := newTestRegistry(t, nil, participant("p1", models.SkillBeginner))

	for _, lane := range models.Lanes {
		require.NoError(t, r.SetStatus("p1", lane))
		status, err := r.Status("p1")
		require.NoError(t, err)
		assert.Equal(t, lane, status)
	}
}

func TestStatusRegistry_SetStatusRejectsSeatedStatuses(t *testing.T) {
	r := newTestRegistry(t, nil, participant("p1", models.SkillBeginner))

	err := r.SetStatus("p1", models.StatusInGame)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = r.SetStatus("p1", models.StatusBench)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	status, _ := r.Status("p1")
	assert.Equal(t, models.StatusReady, status)
}

func TestStatusRegistry_UnknownParticipant(t *testing.T) {
	r := NewStatusRegistry(nil)

	_, err := r.Get("ghost")
	assert.ErrorIs(t, err, ErrParticipantNotFound)
	assert.ErrorIs(t, r.SetStatus("ghost", models.StatusReady), ErrParticipantNotFound)
}

func TestStatusRegistry_ReadyTimeBumpsOnEnteringReady(t *testing.T) {
	now := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, nil, participant("p1", models.SkillBeginner))
	r.now = func() time.Time { return now }

	require.NoError(t, r.SetStatus("p1", models.StatusResting))
	require.NoError(t, r.SetStatus("p1", models.StatusReady))

	p, err := r.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, now, p.ReadyTime)

	// Повторный READY не сдвигает время
	r.now = func() time.Time { return now.Add(time.Hour) }
	require.NoError(t, r.SetStatus("p1", models.StatusReady))
	p, _ = r.Get("p1")
	assert.Equal(t, now, p.ReadyTime)
}

func TestStatusRegistry_MembersWithStatusKeepsOrderAndSkipsSeated(t *testing.T) {
	seats := seatSet{"p2": true}
	r := newTestRegistry(t, seats,
		participant("p1", models.SkillBeginner),
		participant("p2", models.SkillBeginner),
		participant("p3", models.SkillBeginner),
	)
	require.NoError(t, r.SetStatus("p3", models.StatusReserve))
	require.NoError(t, r.SetStatus("p3", models.StatusReady))

	ready := r.MembersWithStatus(models.StatusReady)

	assert.Equal(t, []string{"p1", "p3"}, ids(ready))
	assert.Empty(t, r.MembersWithStatus(models.StatusWaitlist))
}

func TestStatusRegistry_SeatAndFinishGame(t *testing.T) {
	r := newTestRegistry(t, nil,
		participant("p1", models.SkillBeginner),
		participant("p2", models.SkillBeginner),
	)

	require.NoError(t, r.seat("p1", models.StatusInGame))
	require.NoError(t, r.seat("p2", models.StatusBench))
	assert.ErrorIs(t, r.seat("p1", models.StatusReady), ErrInvalidTransition)

	r.finishGame([]string{"p1", "p2", "ghost"})

	for _, id := range []string{"p1", "p2"} {
		p, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusResting, p.Status)
		assert.Equal(t, 1, p.GamesPlayed)
	}
}

func TestStatusRegistry_SnapshotRestore(t *testing.T) {
	r := newTestRegistry(t, nil, participant("p1", models.SkillBeginner), participant("p3", models.SkillBeginner))

	snap := r.snapshot([]string{"p1", "ghost"})
	assert.Len(t, snap, 1)
	require.NoError(t, r.seat("p1", models.StatusInGame))
	require.NoError(t, r.SetStatus("p3", models.StatusReserve))
	require.NoError(t, r.Upsert(participant("p2", models.SkillAdvanced)))

	r.restore(snap)

	status, _ := r.Status("p1")
	assert.Equal(t, models.StatusReady, status)
	// Участники вне снимка не трогаются
	status, _ = r.Status("p3")
	assert.Equal(t, models.StatusReserve, status)
	_, err := r.Get("p2")
	assert.NoError(t, err)
}

func TestStatusRegistry_UpsertValidates(t *testing.T) {
	r := NewStatusRegistry(nil)

	assert.ErrorIs(t, r.Upsert(models.Participant{Status: models.StatusReady}), ErrInvalidTransition)
	assert.ErrorIs(t, r.Upsert(models.Participant{ID: "p1", Status: "PLAYING"}), ErrInvalidTransition)

	require.NoError(t, r.Upsert(participant("p1", models.SkillBeginner)))
	require.NoError(t, r.Upsert(participant("p2", models.SkillBeginner)))
	require.NoError(t, r.Upsert(participant("p1", models.SkillAdvanced)))

	assert.Equal(t, []string{"p1", "p2"}, ids(r.All()))
	p, _ := r.Get("p1")
	assert.Equal(t, models.SkillAdvanced, p.SkillLevel)
}
