package http

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/learnmatch/progression/config"
	"github.com/learnmatch/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE FLAG ADMIN
// ══════════════════════════════════════════════════════════════════════════════

// FeatureAdmin reads and changes feature flags at runtime.
type FeatureAdmin interface {
	GetAllFeatures() map[string]config.Feature
	SetRolloutPercent(name string, percent int) error
	EnableFeature(name string) error
	DisableFeature(name string) error
	SetUserOverride(userID, name string, enabled bool)
	ClearUserOverrides(userID string)
}

// FeatureDTO is one feature flag.
type FeatureDTO struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Enabled        bool   `json:"enabled"`
	RolloutPercent int    `json:"rollout_percent"`
}

func newFeatureDTO(f config.Feature) FeatureDTO {
	return FeatureDTO{
		Name:           f.Name,
		Description:    f.Description,
		Enabled:        f.Enabled,
		RolloutPercent: f.RolloutPercent,
	}
}

// updateFeatureRequest is the body of PUT /admin/features/{feature}.
// RolloutPercent wins when both fields are set.
type updateFeatureRequest struct {
	Enabled        *bool `json:"enabled"`
	RolloutPercent *int  `json:"rollout_percent"`
}

// featureOverrideRequest is the body of PUT /admin/features/{feature}/users/{userID}.
type featureOverrideRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// handleListFeatures handles GET /api/v1/admin/features
func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	all := s.deps.Features.GetAllFeatures()
	items := make([]FeatureDTO, 0, len(all))
	for _, f := range all {
		items = append(items, newFeatureDTO(f))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	writeJSONWithMeta(w, r, http.StatusOK, items, &ResponseMeta{TotalCount: len(items)})
}

// handleUpdateFeature handles PUT /api/v1/admin/features/{feature}
func (s *Server) handleUpdateFeature(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "feature"))

	var req updateFeatureRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.RolloutPercent != nil:
		err = s.deps.Features.SetRolloutPercent(name, *req.RolloutPercent)
	case req.Enabled != nil && *req.Enabled:
		err = s.deps.Features.EnableFeature(name)
	case req.Enabled != nil:
		err = s.deps.Features.DisableFeature(name)
	default:
		writeValidationError(w, r, "enabled", "required", "enabled or rollout_percent is required")
		return
	}
	if err != nil {
		writeFeatureError(w, r, err)
		return
	}

	f := s.deps.Features.GetAllFeatures()[name]
	logger.FromContext(r.Context()).Info("feature flag updated",
		logger.String("feature", name),
		logger.Bool("enabled", f.Enabled),
		logger.Int("rollout_percent", f.RolloutPercent),
	)
	writeJSON(w, r, http.StatusOK, newFeatureDTO(f))
}

// handleSetFeatureOverride handles PUT /api/v1/admin/features/{feature}/users/{userID}
func (s *Server) handleSetFeatureOverride(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "feature"))
	if _, ok := s.deps.Features.GetAllFeatures()[name]; !ok {
		writeFeatureError(w, r, config.ErrFeatureNotFound)
		return
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req featureOverrideRequest
	if !decodeRequest(w, r, &req) || !validateOrReject(w, r, &req) {
		return
	}

	s.deps.Features.SetUserOverride(userID, name, *req.Enabled)
	logger.FromContext(r.Context()).Info("feature override set",
		logger.String("feature", name),
		logger.UserID(userID),
		logger.Bool("enabled", *req.Enabled),
	)
	w.WriteHeader(http.StatusNoContent)
}

// handleClearFeatureOverrides handles DELETE /api/v1/admin/users/{userID}/feature-overrides
func (s *Server) handleClearFeatureOverrides(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	s.deps.Features.ClearUserOverrides(userID)
	w.WriteHeader(http.StatusNoContent)
}

func writeFeatureError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, config.ErrFeatureNotFound):
		writeJSONError(w, r, http.StatusNotFound, &APIError{
			Code:    "feature_not_found",
			Message: "Unknown feature flag",
		})
	case errors.Is(err, config.ErrInvalidRolloutPercent):
		writeValidationError(w, r, "rollout_percent", "range", err.Error())
	default:
		writeJSONError(w, r, http.StatusInternalServerError, &APIError{
			Code:    "internal_error",
			Message: "An unexpected error occurred",
		})
	}
}
