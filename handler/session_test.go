package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"openplay-matchmaking/models"
	"openplay-matchmaking/service"
	"openplay-matchmaking/storage"
)

var (
	_ service.MatchStore  = (*storage.RedisStorage)(nil)
	_ service.RosterStore = (*storage.RedisStorage)(nil)
	_ RosterAdmin         = (*storage.RedisStorage)(nil)
)

type testServer struct {
	router *mux.Router
	redis  *miniredis.Miniredis
	store  *storage.RedisStorage
}

func newTestServer(t *testing.T, courts ...models.Court) *testServer {
	t.Helper()
	if len(courts) == 0 {
		courts = []models.Court{{ID: "c1", Name: "Center", Capacity: 2, Status: models.CourtOpen}}
	}

	mr := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storage.NewRedisStorageFromClient(client, logger)
	t.Cleanup(func() { _ = store.Close() })

	board := service.NewBoard(courts)
	registry := service.NewStatusRegistry(board)
	orchestrator := service.NewOrchestrator(registry, board, store, store, logger, nil)

	router := mux.NewRouter()
	NewSessionHandler(orchestrator, store, logger).Register(router)
	return &testServer{router: router, redis: mr, store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, name, skill string) models.Participant {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/participants", fmt.Sprintf(`{"name":%q,"skill_level":%q}`, name, skill))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var p models.Participant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSessionHandler_GameFlow(t *testing.T) {
	srv := newTestServer(t)
	ann := srv.register(t, "Ann", "Advanced")
	bob := srv.register(t, "Bob", "beginner")
	assert.Equal(t, models.StatusReady, ann.Status)
	assert.Equal(t, models.SkillBeginner, bob.SkillLevel)

	lanes := decode[map[string]json.RawMessage](t, srv.do(t, http.MethodGet, "/api/v1/lanes", ""))
	var ready []models.Participant
	require.NoError(t, json.Unmarshal(lanes["ready"], &ready))
	assert.Len(t, ready, 2)

	rec := srv.do(t, http.MethodPost, "/api/v1/courts/c1/match", `{"team_a_name":"Red","team_b_name":"Blue"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	match := decode[models.Match](t, rec)
	assert.Equal(t, models.MatchScheduled, match.Status)
	assert.Equal(t, "Red", match.TeamAName)

	rec = srv.do(t, http.MethodPost, "/api/v1/courts/c1/match", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/courts/c1/auto-match", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[service.AutoMatchResult](t, rec)
	assert.Equal(t, match.ID, result.MatchID)
	require.Len(t, result.TeamA, 1)
	require.Len(t, result.TeamB, 1)
	assert.Equal(t, ann.ID, result.TeamA[0].ID)
	assert.Equal(t, bob.ID, result.TeamB[0].ID)

	rec = srv.do(t, http.MethodPost, "/api/v1/courts/c1/start", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/v1/courts/c1/toggle", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/courts/c1/end", `{"winner":"A","score":"11-5"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	completed := decode[models.Match](t, rec)
	assert.Equal(t, models.MatchCompleted, completed.Status)
	assert.Equal(t, models.TeamA, completed.Winner)
	assert.Equal(t, "11-5", completed.Score)

	courts := decode[struct {
		Courts []service.CourtView `json:"courts"`
	}](t, srv.do(t, http.MethodGet, "/api/v1/courts", ""))
	require.Len(t, courts.Courts, 1)
	assert.Equal(t, service.PhaseCompleted, courts.Courts[0].Phase)
	assert.Len(t, courts.Courts[0].History, 1)
	assert.True(t, courts.Courts[0].CanCloseCourt)

	p := decode[models.Participant](t, srv.do(t, http.MethodGet, "/api/v1/participants/"+ann.ID, ""))
	assert.Equal(t, models.StatusResting, p.Status)
	assert.Equal(t, 1, p.GamesPlayed)
}

func TestSessionHandler_SeatAndRemove(t *testing.T) {
	srv := newTestServer(t)
	ann := srv.register(t, "Ann", "Intermediate")

	rec := srv.do(t, http.MethodPost, "/api/v1/participants/"+ann.ID+"/seat", `{"court_id":"c1","team":"A"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusCreated, srv.do(t, http.MethodPost, "/api/v1/courts/c1/match", "").Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/participants/"+ann.ID+"/seat", `{"court_id":"c1","team":"A"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	move := decode[service.MoveResult](t, rec)
	assert.Equal(t, service.RequestCommitted, move.State)

	rec = srv.do(t, http.MethodDelete, "/api/v1/courts/c1/teams/B/players/"+ann.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/api/v1/courts/c1/teams/A/players/"+ann.ID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p := decode[models.Participant](t, srv.do(t, http.MethodGet, "/api/v1/participants/"+ann.ID, ""))
	assert.Equal(t, models.StatusReady, p.Status)
}

func TestSessionHandler_MoveToLane(t *testing.T) {
	srv := newTestServer(t)
	ann := srv.register(t, "Ann", "Advanced")

	rec := srv.do(t, http.MethodPost, "/api/v1/participants/"+ann.ID+"/lane", `{"lane":"WAITLIST"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	lanes := decode[map[string]json.RawMessage](t, srv.do(t, http.MethodGet, "/api/v1/lanes", ""))
	var waitlist []models.Participant
	require.NoError(t, json.Unmarshal(lanes["waitlist"], &waitlist))
	require.Len(t, waitlist, 1)
	assert.Equal(t, ann.ID, waitlist[0].ID)

	rec = srv.do(t, http.MethodPost, "/api/v1/participants/"+ann.ID+"/lane", `{"lane":"IN-GAME"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSessionHandler_BadRequests(t *testing.T) {
	srv := newTestServer(t)
	ann := srv.register(t, "Ann", "Advanced")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed register", http.MethodPost, "/api/v1/participants", `{`, http.StatusBadRequest},
		{"empty name", http.MethodPost, "/api/v1/participants", `{"name":"  "}`, http.StatusBadRequest},
		{"unknown skill", http.MethodPost, "/api/v1/participants", `{"name":"Cy","skill_level":"Pro"}`, http.StatusBadRequest},
		{"seat without court", http.MethodPost, "/api/v1/participants/" + ann.ID + "/seat", `{"team":"A"}`, http.StatusBadRequest},
		{"bad team in path", http.MethodDelete, "/api/v1/courts/c1/teams/C/players/" + ann.ID, "", http.StatusBadRequest},
		{"end without body", http.MethodPost, "/api/v1/courts/c1/end", "", http.StatusBadRequest},
		{"unknown status", http.MethodPost, "/api/v1/participants/" + ann.ID + "/status", `{"status":"PLAYING"}`, http.StatusBadRequest},
		{"unknown participant", http.MethodPost, "/api/v1/participants/ghost/lane", `{"lane":"READY"}`, http.StatusNotFound},
		{"unknown court", http.MethodPost, "/api/v1/courts/c9/start", "", http.StatusNotFound},
		{"no players", http.MethodPost, "/api/v1/courts/c1/auto-match", "", http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSessionHandler_StatusOverridePublishes(t *testing.T) {
	srv := newTestServer(t)
	ann := srv.register(t, "Ann", "Advanced")

	rec := srv.do(t, http.MethodPost, "/api/v1/participants/"+ann.ID+"/status", `{"status":"RESERVE"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	override := decode[models.StatusOverride](t, rec)
	assert.Equal(t, models.StatusOverride{ParticipantID: ann.ID, Status: models.StatusReserve}, override)

	stored, err := srv.store.GetParticipant(context.Background(), ann.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReserve, stored.Status)

	rec = srv.do(t, http.MethodPost, "/api/v1/participants/ghost/status", `{"status":"RESERVE"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Без места на корте IN-GAME недопустим, ростер не меняется
	rec = srv.do(t, http.MethodPost, "/api/v1/participants/"+ann.ID+"/status", `{"status":"IN-GAME"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	stored, err = srv.store.GetParticipant(context.Background(), ann.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReserve, stored.Status)
}

func TestSessionHandler_RemoteFailure(t *testing.T) {
	srv := newTestServer(t)
	ann := srv.register(t, "Ann", "Advanced")
	srv.redis.Close()

	rec := srv.do(t, http.MethodPost, "/api/v1/participants/"+ann.ID+"/lane", `{"lane":"RESTING"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Contains(t, body, "cause")

	p := decode[models.Participant](t, srv.do(t, http.MethodGet, "/api/v1/participants/"+ann.ID, ""))
	assert.Equal(t, models.StatusReady, p.Status)
}

func TestRespondMove_IgnoredIsAccepted(t *testing.T) {
	h := NewSessionHandler(nil, nil, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()

	h.respondMove(rec, service.MoveResult{ParticipantID: "p1", State: service.RequestIgnored})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"ignored"`)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", service.ErrParticipantNotFound), http.StatusNotFound},
		{service.ErrCourtNotFound, http.StatusNotFound},
		{service.ErrCourtBusy, http.StatusConflict},
		{service.ErrIncompleteRoster, http.StatusConflict},
		{&service.RemoteError{Op: "assign_player_to_team", Cause: service.CauseConflict, Err: storage.ErrTeamFull}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), tt.err.Error())
	}
}
