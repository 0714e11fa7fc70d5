package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"openplay-matchmaking/models"
	"openplay-matchmaking/service"
)

// RosterAdmin операции ростера, доступные оператору напрямую
type RosterAdmin interface {
	SaveParticipant(ctx context.Context, participant *models.Participant) error
	PublishStatusOverride(ctx context.Context, override models.StatusOverride) error
}

// SessionHandler обрабатывает HTTP запросы оператора открытой игры
type SessionHandler struct {
	orchestrator *service.Orchestrator
	roster       RosterAdmin
	logger       *zap.Logger
}

// NewSessionHandler создает новый обработчик сессии
func NewSessionHandler(orchestrator *service.Orchestrator, roster RosterAdmin, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		orchestrator: orchestrator,
		roster:       roster,
		logger:       logger,
	}
}

// Register регистрирует маршруты API
func (h *SessionHandler) Register(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/lanes", h.GetLanes).Methods("GET")
	api.HandleFunc("/courts", h.GetCourts).Methods("GET")

	api.HandleFunc("/participants", h.RegisterParticipant).Methods("POST")
	api.HandleFunc("/participants/{participant_id}", h.GetParticipant).Methods("GET")
	api.HandleFunc("/participants/{participant_id}/status", h.OverrideStatus).Methods("POST")
	api.HandleFunc("/participants/{participant_id}/lane", h.MoveToLane).Methods("POST")
	api.HandleFunc("/participants/{participant_id}/seat", h.MoveToCourtSlot).Methods("POST")

	api.HandleFunc("/courts/{court_id}/match", h.CreateMatch).Methods("POST")
	api.HandleFunc("/courts/{court_id}/auto-match", h.AutoMatch).Methods("POST")
	api.HandleFunc("/courts/{court_id}/start", h.StartGame).Methods("POST")
	api.HandleFunc("/courts/{court_id}/end", h.EndGame).Methods("POST")
	api.HandleFunc("/courts/{court_id}/toggle", h.ToggleCourt).Methods("POST")
	api.HandleFunc("/courts/{court_id}/teams/{team}/players/{participant_id}", h.RemovePlayer).Methods("DELETE")
}

type registerRequest struct {
	Name       string            `json:"name"`
	SkillLevel models.SkillLevel `json:"skill_level"`
}

type statusRequest struct {
	Status models.Status `json:"status"`
}

type laneRequest struct {
	Lane models.Status `json:"lane"`
}

type seatRequest struct {
	CourtID string      `json:"court_id"`
	Team    models.Team `json:"team"`
}

type createMatchRequest struct {
	TeamAName string `json:"team_a_name"`
	TeamBName string `json:"team_b_name"`
}

type endGameRequest struct {
	Winner models.Team `json:"winner"`
	Score  string      `json:"score"`
}

// GetLanes возвращает очереди участников
func (h *SessionHandler) GetLanes(w http.ResponseWriter, r *http.Request) {
	lanes := h.orchestrator.Lanes()

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ready":     lanes[models.StatusReady],
		"resting":   lanes[models.StatusResting],
		"reserve":   lanes[models.StatusReserve],
		"waitlist":  lanes[models.StatusWaitlist],
		"timestamp": time.Now().Unix(),
	})
}

// GetCourts возвращает состояние кортов
func (h *SessionHandler) GetCourts(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"courts":    h.orchestrator.Courts(),
		"timestamp": time.Now().Unix(),
	})
}

// RegisterParticipant регистрирует участника в очереди READY
func (h *SessionHandler) RegisterParticipant(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		h.respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.SkillLevel == 0 {
		req.SkillLevel = models.SkillBeginner
	}

	participant := models.NewParticipant(name, req.SkillLevel)
	if err := h.roster.SaveParticipant(r.Context(), participant); err != nil {
		h.respondError(w, http.StatusBadGateway, "Failed to save participant", err)
		return
	}
	if err := h.orchestrator.RegisterParticipant(*participant); err != nil {
		h.respondServiceError(w, "Failed to register participant", err)
		return
	}

	h.respondJSON(w, http.StatusCreated, participant)
}

// GetParticipant возвращает участника
func (h *SessionHandler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	participantID := mux.Vars(r)["participant_id"]

	participant, err := h.orchestrator.Participant(participantID)
	if err != nil {
		h.respondServiceError(w, "Failed to get participant", err)
		return
	}
	h.respondJSON(w, http.StatusOK, participant)
}

// OverrideStatus сохраняет ручную смену статуса в ростере и рассылает ее;
// в памяти ее применяет подписчик ростера
func (h *SessionHandler) OverrideStatus(w http.ResponseWriter, r *http.Request) {
	participantID := mux.Vars(r)["participant_id"]

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !req.Status.Valid() {
		h.respondError(w, http.StatusBadRequest, "Unknown status", nil)
		return
	}

	override := models.StatusOverride{ParticipantID: participantID, Status: req.Status}
	if err := h.orchestrator.CheckStatusOverride(override); err != nil {
		h.respondServiceError(w, "Failed to override status", err)
		return
	}
	if err := h.roster.PublishStatusOverride(r.Context(), override); err != nil {
		h.respondError(w, http.StatusBadGateway, "Failed to publish status override", err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, override)
}

// MoveToLane переводит участника в очередь
func (h *SessionHandler) MoveToLane(w http.ResponseWriter, r *http.Request) {
	participantID := mux.Vars(r)["participant_id"]

	var req laneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.orchestrator.MoveToLane(r.Context(), participantID, req.Lane)
	if err != nil {
		h.respondServiceError(w, "Failed to move participant to lane", err)
		return
	}
	h.respondMove(w, result)
}

// MoveToCourtSlot сажает участника на корт
func (h *SessionHandler) MoveToCourtSlot(w http.ResponseWriter, r *http.Request) {
	participantID := mux.Vars(r)["participant_id"]

	var req seatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CourtID == "" {
		h.respondError(w, http.StatusBadRequest, "court_id is required", nil)
		return
	}

	result, err := h.orchestrator.MoveToCourtSlot(r.Context(), participantID, req.CourtID, req.Team)
	if err != nil {
		h.respondServiceError(w, "Failed to seat participant", err)
		return
	}
	h.respondMove(w, result)
}

// CreateMatch создает оболочку матча для корта
func (h *SessionHandler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	courtID := mux.Vars(r)["court_id"]

	// Тело необязательно: имена команд можно не задавать
	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	match, err := h.orchestrator.CreateMatch(r.Context(), courtID, req.TeamAName, req.TeamBName)
	if err != nil {
		h.respondServiceError(w, "Failed to create match", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, match)
}

// AutoMatch подбирает игроков на корт
func (h *SessionHandler) AutoMatch(w http.ResponseWriter, r *http.Request) {
	courtID := mux.Vars(r)["court_id"]

	result, err := h.orchestrator.AutoMatch(r.Context(), courtID)
	if err != nil {
		h.respondServiceError(w, "Failed to auto match", err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// StartGame начинает игру на корте
func (h *SessionHandler) StartGame(w http.ResponseWriter, r *http.Request) {
	courtID := mux.Vars(r)["court_id"]

	if err := h.orchestrator.StartGame(r.Context(), courtID); err != nil {
		h.respondServiceError(w, "Failed to start game", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"court_id": courtID,
		"status":   models.MatchInProgress,
	})
}

// EndGame завершает игру и фиксирует победителя
func (h *SessionHandler) EndGame(w http.ResponseWriter, r *http.Request) {
	courtID := mux.Vars(r)["court_id"]

	var req endGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	match, err := h.orchestrator.EndGame(r.Context(), courtID, req.Winner, req.Score)
	if err != nil {
		h.respondServiceError(w, "Failed to end game", err)
		return
	}
	h.respondJSON(w, http.StatusOK, match)
}

// ToggleCourt открывает или закрывает корт
func (h *SessionHandler) ToggleCourt(w http.ResponseWriter, r *http.Request) {
	courtID := mux.Vars(r)["court_id"]

	status, err := h.orchestrator.ToggleCourtOpen(courtID)
	if err != nil {
		h.respondServiceError(w, "Failed to toggle court", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"court_id": courtID,
		"status":   status,
	})
}

// RemovePlayer снимает участника с команды
func (h *SessionHandler) RemovePlayer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	team, err := models.ParseTeam(vars["team"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid team", err)
		return
	}

	result, err := h.orchestrator.RemovePlayer(r.Context(), vars["court_id"], team, vars["participant_id"])
	if err != nil {
		h.respondServiceError(w, "Failed to remove player", err)
		return
	}
	h.respondMove(w, result)
}

// respondMove отвечает на перемещение; дубликат получает 202
func (h *SessionHandler) respondMove(w http.ResponseWriter, result service.MoveResult) {
	status := http.StatusOK
	if result.State == service.RequestIgnored {
		status = http.StatusAccepted
	}
	h.respondJSON(w, status, result)
}

// respondServiceError выбирает HTTP статус по типу ошибки оркестратора
func (h *SessionHandler) respondServiceError(w http.ResponseWriter, message string, err error) {
	h.respondError(w, statusForError(err), message, err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrParticipantNotFound),
		errors.Is(err, service.ErrCourtNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRemoteCallFailed):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrCourtClosed),
		errors.Is(err, service.ErrDuplicateMatch),
		errors.Is(err, service.ErrIncompleteRoster),
		errors.Is(err, service.ErrInsufficientPlayers),
		errors.Is(err, service.ErrNoActiveMatch),
		errors.Is(err, service.ErrCapacityExceeded),
		errors.Is(err, service.ErrCourtBusy),
		errors.Is(err, service.ErrNotSeated),
		errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON отправляет JSON ответ
func (h *SessionHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// respondError отправляет ошибку в формате JSON
func (h *SessionHandler) respondError(w http.ResponseWriter, status int, message string, err error) {
	h.logger.Warn("Request error",
		zap.Int("status", status),
		zap.String("message", message),
		zap.Error(err),
	)

	errorResp := map[string]interface{}{
		"error": message,
	}
	if err != nil {
		errorResp["details"] = err.Error()
	}
	if cause, ok := service.RemoteCauseOf(err); ok {
		errorResp["cause"] = cause.String()
	}
	h.respondJSON(w, status, errorResp)
}
