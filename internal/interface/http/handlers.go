package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/learnmatch/progression/internal/application/command"
	"github.com/learnmatch/progression/internal/application/eventhandler"
	"github.com/learnmatch/progression/internal/application/query"
	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/pkg/logger"
)

// IdempotencyKeyHeader carries the client event id of a write request.
const IdempotencyKeyHeader = "Idempotency-Key"

const defaultAchievementLimit = 20

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    "LearnMatch Progression API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":   "/health",
			"badges":   "/api/v1/badges",
			"levels":   "/api/v1/levels?xp=N",
			"progress": "/api/v1/users/{userID}/progress",
			"events":   "/api/v1/users/{userID}/events/{kind}",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if status.Version == "" {
		status.Version = s.config.Version
	}
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleReady handles the readiness check endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness check endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": s.Uptime().String(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListBadges handles GET /api/v1/badges
func (s *Server) handleListBadges(w http.ResponseWriter, r *http.Request) {
	badges := query.ListBadges()
	writeJSONWithMeta(w, r, http.StatusOK, badges, &ResponseMeta{TotalCount: len(badges)})
}

// handleLevelInfo handles GET /api/v1/levels?xp=N
func (s *Server) handleLevelInfo(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("xp"))
	if raw == "" {
		writeValidationError(w, r, "xp", "required", "xp is required")
		return
	}
	xp, err := strconv.Atoi(raw)
	if err != nil {
		writeValidationError(w, r, "xp", "integer", "xp must be an integer")
		return
	}

	info, err := query.LevelInfo(xp)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

// ══════════════════════════════════════════════════════════════════════════════
// USER READ HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgress handles GET /api/v1/users/{userID}/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetStats == nil {
		writeNotConfigured(w, r, "Progress handler")
		return
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	stats, err := s.deps.GetStats.Handle(r.Context(), query.GetStatsQuery{UserID: userID})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// handleGetBadgeBoard handles GET /api/v1/users/{userID}/badges
func (s *Server) handleGetBadgeBoard(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetBadgeBoard == nil {
		writeNotConfigured(w, r, "Badge board handler")
		return
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	board, err := s.deps.GetBadgeBoard.Handle(r.Context(), query.GetBadgeBoardQuery{UserID: userID})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, board, &ResponseMeta{TotalCount: board.Total})
}

// handleGetHistory handles GET /api/v1/users/{userID}/history?limit=N
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetXPHistory == nil {
		writeNotConfigured(w, r, "History handler")
		return
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	limit, ok := intQueryParam(w, r, "limit", 0)
	if !ok {
		return
	}

	history, err := s.deps.GetXPHistory.Handle(r.Context(), query.GetXPHistoryQuery{UserID: userID, Limit: limit})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, history, &ResponseMeta{
		TotalCount: len(history.Entries),
		Limit:      history.Limit,
	})
}

// AchievementsDTO is the recent achievement feed of one user.
type AchievementsDTO struct {
	UserID       string                     `json:"user_id"`
	Achievements []eventhandler.Achievement `json:"achievements"`
}

// handleGetAchievements handles GET /api/v1/users/{userID}/achievements?limit=N
func (s *Server) handleGetAchievements(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	limit, ok := intQueryParam(w, r, "limit", defaultAchievementLimit)
	if !ok {
		return
	}
	if limit < 0 {
		writeValidationError(w, r, "limit", "gte", "limit must be greater than or equal to 0")
		return
	}

	items := []eventhandler.Achievement{}
	if s.deps.Achievements != nil {
		items = s.deps.Achievements.Recent(userID, limit)
	}
	writeJSONWithMeta(w, r, http.StatusOK, AchievementsDTO{UserID: userID, Achievements: items}, &ResponseMeta{
		TotalCount: len(items),
		Limit:      limit,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleAwardXP handles POST /api/v1/users/{userID}/xp
func (s *Server) handleAwardXP(w http.ResponseWriter, r *http.Request) {
	if s.deps.AwardXP == nil {
		writeNotConfigured(w, r, "Award handler")
		return
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req awardXPRequest
	if !decodeAndValidate(w, r, &req, &req.EventID) {
		return
	}

	change, err := s.deps.AwardXP.Handle(r.Context(), command.AwardXPCommand{
		UserID:  userID,
		Amount:  req.Amount,
		Reason:  req.Reason,
		EventID: req.EventID,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, NewProgressChangeDTO(change))
}

// handleLearningEvent handles POST /api/v1/users/{userID}/events/{kind}
func (s *Server) handleLearningEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordEvent == nil {
		writeNotConfigured(w, r, "Learning event handler")
		return
	}
	kind, known := eventKinds[chi.URLParam(r, "kind")]
	if !known {
		writeJSONError(w, r, http.StatusNotFound, &APIError{
			Code:    "unknown_event",
			Message: "Unknown learning event kind",
		})
		return
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req learningEventRequest
	if !decodeAndValidate(w, r, &req, &req.EventID) {
		return
	}
	if kind == progress.KindVideoProgress && req.Percent == nil {
		writeValidationError(w, r, "percent", "required", "percent is required")
		return
	}

	cmd := command.RecordLearningEventCommand{
		UserID:     userID,
		Kind:       kind,
		ResourceID: req.ResourceID,
		EventID:    req.EventID,
	}
	if kind == progress.KindPathComplete && req.PathID != "" {
		cmd.ResourceID = req.PathID
	}
	if req.Percent != nil {
		cmd.Percent = *req.Percent
	}

	change, err := s.deps.RecordEvent.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, NewProgressChangeDTO(change))
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE DTO
// ══════════════════════════════════════════════════════════════════════════════

// AwardDTO is one XP grant.
type AwardDTO struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// ProgressChangeDTO is the response of every write endpoint.
type ProgressChangeDTO struct {
	UserID string `json:"user_id"`
	Event  string `json:"event"`

	// Duplicate is true when the Idempotency-Key was already processed.
	Duplicate bool `json:"duplicate"`
	Changed   bool `json:"changed"`

	XPGained int        `json:"xp_gained"`
	Awards   []AwardDTO `json:"awards"`

	Experience    int  `json:"experience"`
	Level         int  `json:"level"`
	LeveledUp     bool `json:"leveled_up"`
	OldLevel      int  `json:"old_level,omitempty"`
	XPToNextLevel int  `json:"xp_to_next_level"`
	LevelProgress int  `json:"level_progress"`

	UnlockedBadges []query.BadgeDTO `json:"unlocked_badges"`

	Streak        query.StreakDTO `json:"streak"`
	StreakChanged bool            `json:"streak_changed"`
	Completed     bool            `json:"completed"`
}

// NewProgressChangeDTO converts a command result for the wire.
func NewProgressChangeDTO(c *command.ProgressChange) ProgressChangeDTO {
	dto := ProgressChangeDTO{
		UserID:         c.UserID,
		Event:          string(c.Kind),
		Duplicate:      c.Duplicate,
		Changed:        c.Changed,
		XPGained:       c.XPGained,
		Awards:         make([]AwardDTO, 0, len(c.Awards)),
		Experience:     c.Experience,
		Level:          c.Level,
		LeveledUp:      c.LeveledUp,
		XPToNextLevel:  c.XPToNextLevel,
		LevelProgress:  c.LevelProgress,
		UnlockedBadges: make([]query.BadgeDTO, 0, len(c.UnlockedBadges)),
		Streak: query.StreakDTO{
			Current:        c.Streak.Current,
			Longest:        c.Streak.Longest,
			LastActiveDate: c.Streak.LastActiveDate.String(),
		},
		StreakChanged: c.StreakChanged,
		Completed:     c.Completed,
	}
	if c.LeveledUp {
		dto.OldLevel = c.OldLevel
	}
	for _, a := range c.Awards {
		dto.Awards = append(dto.Awards, AwardDTO{Amount: a.Amount, Reason: a.Reason})
	}
	for _, id := range c.UnlockedBadges {
		if def, ok := progress.LookupBadge(id); ok {
			dto.UnlockedBadges = append(dto.UnlockedBadges, query.NewBadgeDTO(def))
		}
	}
	return dto
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// userIDParam extracts and validates {userID}.
func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if verr := validateRequest(userPath{UserID: userID}); verr != nil {
		writeJSONError(w, r, http.StatusBadRequest, verr.apiError())
		return "", false
	}
	return userID, true
}

// intQueryParam parses an optional integer query parameter.
func intQueryParam(w http.ResponseWriter, r *http.Request, key string, defaultValue int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultValue, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		writeValidationError(w, r, key, "integer", key+" must be an integer")
		return 0, false
	}
	return value, true
}

// decodeAndValidate decodes the body into req, applies the Idempotency-Key
// header over the body event id and validates the result.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}, eventID *string) bool {
	if !decodeRequest(w, r, req) {
		return false
	}
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" {
		*eventID = key
	}
	return validateOrReject(w, r, req)
}

// decodeRequest decodes the body into req and writes the error response on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	err := decodeBody(r, req)
	if err == nil {
		return true
	}
	if errors.Is(err, errBodyTooLarge) {
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, &APIError{
			Code:    "payload_too_large",
			Message: "Request body too large",
		})
		return false
	}
	writeJSONError(w, r, http.StatusBadRequest, &APIError{
		Code:    "invalid_json",
		Message: err.Error(),
	})
	return false
}

func validateOrReject(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if verr := validateRequest(req); verr != nil {
		writeJSONError(w, r, http.StatusBadRequest, verr.apiError())
		return false
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps application errors to status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	switch {
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, &APIError{
			Code:    "validation_error",
			Message: domainMessage(err),
		})
	case shared.IsUnavailable(err):
		log.Warn("progress store unavailable", logger.Err(err))
		writeJSONError(w, r, http.StatusServiceUnavailable, &APIError{
			Code:      "store_unavailable",
			Message:   "Progress is temporarily unavailable",
			Retryable: true,
		})
	case shared.IsConflict(err):
		log.Warn("progress update kept conflicting", logger.Err(err))
		writeJSONError(w, r, http.StatusConflict, &APIError{
			Code:      "conflict",
			Message:   "Progress was updated concurrently, retry the request",
			Retryable: true,
		})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeJSONError(w, r, http.StatusGatewayTimeout, &APIError{
			Code:      "timeout",
			Message:   "Request timed out",
			Retryable: true,
		})
	default:
		log.Error("request failed", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, &APIError{
			Code:    "internal_error",
			Message: "An unexpected error occurred",
		})
	}
}

func domainMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

func writeValidationError(w http.ResponseWriter, r *http.Request, field, tag, message string) {
	verr := &validationError{fields: []FieldError{{Field: field, Tag: tag, Message: message}}}
	writeJSONError(w, r, http.StatusBadRequest, verr.apiError())
}

func writeNotConfigured(w http.ResponseWriter, r *http.Request, what string) {
	writeJSONError(w, r, http.StatusNotImplemented, &APIError{
		Code:    "not_implemented",
		Message: what + " not configured",
	})
}
