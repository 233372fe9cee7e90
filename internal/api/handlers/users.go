// Package handlers contains the HTTP handler implementations for the
// LearnHub API. Each handler declares narrow interfaces for its dependencies
// so tests can swap in small hand-rolled fakes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"learnhub/internal/core"
	"learnhub/internal/types"
)

// MeUserRepo defines the data access contract for account self-service.
// Mirrors the concrete db.UserRepository methods relevant to this handler.
type MeUserRepo interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
	UpdateProfile(ctx context.Context, userID string, name string, imageURL *string) error
	UpdatePreferences(ctx context.Context, userID string, prefs types.Preferences) error
}

// UpdateProfileRequest is the request body for PATCH /v1/me/profile.
type UpdateProfileRequest struct {
	Name     string  `json:"name" validate:"required,max=100"`
	ImageURL *string `json:"image_url" validate:"omitempty,url"`
}

// UpdatePreferencesRequest is the request body for PATCH /v1/me/preferences.
// All fields are optional; empty strings clear the corresponding default.
type UpdatePreferencesRequest struct {
	DefaultSubject string `json:"default_subject" validate:"omitempty,subject"`
	DefaultStyle   string `json:"default_style" validate:"omitempty,teaching_style"`
	DefaultVoice   string `json:"default_voice" validate:"omitempty,voice_gender"`
	EmailUpdates   bool   `json:"email_updates"`
}

// ProfileDTO is the profile subset of the account returned by the profile
// endpoints.
type ProfileDTO struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	Name     string  `json:"name"`
	ImageURL *string `json:"image_url,omitempty"`
}

// MeHandler serves the authenticated user's own account: identity snapshot,
// profile edits, and tutoring preferences.
type MeHandler struct {
	users     MeUserRepo
	validator *core.Validator
	logger    *slog.Logger
}

// NewMeHandler creates a new MeHandler.
func NewMeHandler(users MeUserRepo, v *core.Validator, l *slog.Logger) *MeHandler {
	if l == nil {
		l = slog.Default()
	}
	return &MeHandler{
		users:     users,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the account self-service endpoints.
func (h *MeHandler) RegisterRoutes(r chi.Router) {
	r.Route("/me", func(r chi.Router) {
		r.Get("/", h.Me)
		r.Get("/profile", h.GetProfile)
		r.Patch("/profile", h.UpdateProfile)
		r.Patch("/preferences", h.UpdatePreferences)
	})
}

// requireActor pulls the authenticated Actor from the context. The auth
// middleware guarantees it on every non-public route; a missing actor means
// the route was mounted outside the middleware chain.
func requireActor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.ID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Authentication required",
			nil,
		))
		return types.Actor{}, false
	}
	return actor, true
}

// Me handles GET /v1/me. Returns the full account row including preferences.
func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetByID(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: user})
}

// GetProfile handles GET /v1/me/profile.
func (h *MeHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetByID(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ProfileDTO{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		ImageURL: user.ImageURL,
	}})
}

// UpdateProfile handles PATCH /v1/me/profile.
func (h *MeHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.users.UpdateProfile(r.Context(), actor.ID, req.Name, req.ImageURL); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("profile updated", slog.String("user_id", actor.ID))

	user, err := h.users.GetByID(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ProfileDTO{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		ImageURL: user.ImageURL,
	}})
}

// UpdatePreferences handles PATCH /v1/me/preferences. The payload replaces
// the stored preferences wholesale; omitted fields reset to their zero value.
func (h *MeHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req UpdatePreferencesRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	prefs := types.Preferences{
		DefaultSubject: req.DefaultSubject,
		DefaultStyle:   req.DefaultStyle,
		DefaultVoice:   req.DefaultVoice,
		EmailUpdates:   req.EmailUpdates,
	}
	if err := h.users.UpdatePreferences(r.Context(), actor.ID, prefs); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: prefs})
}
