package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"learnhub/internal/core"
	"learnhub/internal/db"
	"learnhub/internal/external"
	"learnhub/internal/types"
)

// CompanionRepo defines the data access contract for companion operations.
// Mirrors the concrete db.CompanionRepository methods this handler uses.
type CompanionRepo interface {
	Create(ctx context.Context, c *types.Companion) error
	GetByID(ctx context.Context, id string) (*types.Companion, error)
	List(ctx context.Context, f db.CompanionFilter) ([]types.Companion, int, error)
	ListByAuthor(ctx context.Context, authorID string) ([]types.Companion, error)
	Stats(ctx context.Context, authorID string) (*types.CompanionStats, error)
	Update(ctx context.Context, c *types.Companion) error
	SetAssistantID(ctx context.Context, id string, assistantID string) error
	Delete(ctx context.Context, id string) error
}

// CompanionLimitChecker gates companion creation against the author's plan.
type CompanionLimitChecker interface {
	CheckCompanionLimit(ctx context.Context, userID string) types.LimitCheck
}

// CreateCompanionRequest is the request body for POST /v1/companions.
type CreateCompanionRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Subject  string `json:"subject" validate:"required,subject"`
	Topic    string `json:"topic" validate:"required,max=200"`
	Style    string `json:"style" validate:"required,teaching_style"`
	Voice    string `json:"voice" validate:"required,voice_gender"`
	Duration int    `json:"duration" validate:"required,min=1,max=120"`
}

// UpdateCompanionRequest is the request body for PATCH /v1/companions/{id}.
// Nil fields are left unchanged.
type UpdateCompanionRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=100"`
	Subject  *string `json:"subject" validate:"omitempty,subject"`
	Topic    *string `json:"topic" validate:"omitempty,max=200"`
	Style    *string `json:"style" validate:"omitempty,teaching_style"`
	Voice    *string `json:"voice" validate:"omitempty,voice_gender"`
	Duration *int    `json:"duration" validate:"omitempty,min=1,max=120"`
}

// CompanionHandler manages tutor profile CRUD and the companion limit gate.
// Assistant provisioning at the voice vendor is best-effort: a vendor outage
// must not block authoring, so failures are logged and the companion is kept
// without an assistant until the next update retries.
type CompanionHandler struct {
	companions CompanionRepo
	limits     CompanionLimitChecker
	assistants external.AssistantService
	validator  *core.Validator
	logger     *slog.Logger
}

// NewCompanionHandler creates a new CompanionHandler.
func NewCompanionHandler(
	companions CompanionRepo,
	limits CompanionLimitChecker,
	assistants external.AssistantService,
	v *core.Validator,
	l *slog.Logger,
) *CompanionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &CompanionHandler{
		companions: companions,
		limits:     limits,
		assistants: assistants,
		validator:  v,
		logger:     l,
	}
}

// RegisterRoutes mounts companion routes onto the provided router.
func (h *CompanionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/companions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/mine", h.ListMine)
		r.Get("/stats", h.Stats)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// Create handles POST /v1/companions. Enforces the author's companion limit
// before writing and provisions a voice assistant best-effort afterward.
func (h *CompanionHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req CreateCompanionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	check := h.limits.CheckCompanionLimit(r.Context(), actor.ID)
	if !check.Allowed {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeLimitCompanions,
			check.UpgradePrompt,
			nil,
			map[string]any{
				"used":         check.Used,
				"limit":        check.Limit,
				"upgrade_tier": check.UpgradeTier,
			},
		))
		return
	}

	companion := &types.Companion{
		AuthorID: actor.ID,
		Name:     req.Name,
		Subject:  req.Subject,
		Topic:    req.Topic,
		Style:    types.TeachingStyle(req.Style),
		Voice:    types.VoiceGender(req.Voice),
		Duration: req.Duration,
	}
	if err := h.companions.Create(r.Context(), companion); err != nil {
		core.Error(w, r, err)
		return
	}

	h.provisionAssistant(r.Context(), companion)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: companion})
}

// provisionAssistant creates the vendor assistant for a companion and stores
// its id. Failures are logged, never surfaced to the author.
func (h *CompanionHandler) provisionAssistant(ctx context.Context, companion *types.Companion) {
	if h.assistants == nil {
		return
	}

	assistantID, err := h.assistants.CreateAssistant(ctx, companion)
	if err != nil {
		h.logger.Warn("assistant provisioning failed",
			slog.String("companion_id", companion.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := h.companions.SetAssistantID(ctx, companion.ID, assistantID); err != nil {
		h.logger.Error("failed to store assistant id",
			slog.String("companion_id", companion.ID),
			slog.String("assistant_id", assistantID),
			slog.String("error", err.Error()),
		)
		return
	}
	companion.AssistantID = &assistantID
}

// List handles GET /v1/companions. Public within the authenticated surface:
// any user can browse all companions, filtered by subject and topic search.
func (h *CompanionHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	q := r.URL.Query()
	filter := db.CompanionFilter{
		Subject: q.Get("subject"),
		Topic:   q.Get("topic"),
		Limit:   parsePositiveInt(q.Get("limit"), 20),
		Offset:  parsePositiveInt(q.Get("offset"), 0),
	}

	companions, total, err := h.companions.List(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: types.ListResponse[types.Companion]{
		Data: companions,
		PageInfo: types.PageInfo{
			HasMore:    filter.Offset+len(companions) < total,
			TotalItems: &total,
		},
	}})
}

// ListMine handles GET /v1/companions/mine.
func (h *CompanionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	companions, err := h.companions.ListByAuthor(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: companions})
}

// Stats handles GET /v1/companions/stats.
func (h *CompanionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	stats, err := h.companions.Stats(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: stats})
}

// Get handles GET /v1/companions/{id}.
func (h *CompanionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	companion, err := h.companions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: companion})
}

// Update handles PATCH /v1/companions/{id}. Only the author may edit.
func (h *CompanionHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req UpdateCompanionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	companion, err := h.companions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if companion.AuthorID != actor.ID {
		core.Error(w, r, types.NewAppError(
			types.ErrCodePermissionNotOwner,
			"only the author may modify this companion",
			nil,
		))
		return
	}

	if req.Name != nil {
		companion.Name = *req.Name
	}
	if req.Subject != nil {
		companion.Subject = *req.Subject
	}
	if req.Topic != nil {
		companion.Topic = *req.Topic
	}
	if req.Style != nil {
		companion.Style = types.TeachingStyle(*req.Style)
	}
	if req.Voice != nil {
		companion.Voice = types.VoiceGender(*req.Voice)
	}
	if req.Duration != nil {
		companion.Duration = *req.Duration
	}

	if err := h.companions.Update(r.Context(), companion); err != nil {
		core.Error(w, r, err)
		return
	}

	// A companion that missed assistant provisioning at create time gets
	// another chance on update.
	if companion.AssistantID == nil {
		h.provisionAssistant(r.Context(), companion)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: companion})
}

// Delete handles DELETE /v1/companions/{id}. Only the author may delete.
// The vendor assistant is removed best-effort after the local row.
func (h *CompanionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	companion, err := h.companions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if companion.AuthorID != actor.ID {
		core.Error(w, r, types.NewAppError(
			types.ErrCodePermissionNotOwner,
			"only the author may delete this companion",
			nil,
		))
		return
	}

	if err := h.companions.Delete(r.Context(), companion.ID); err != nil {
		core.Error(w, r, err)
		return
	}

	if h.assistants != nil && companion.AssistantID != nil {
		if err := h.assistants.DeleteAssistant(r.Context(), *companion.AssistantID); err != nil {
			h.logger.Warn("assistant cleanup failed",
				slog.String("companion_id", companion.ID),
				slog.String("assistant_id", *companion.AssistantID),
				slog.String("error", err.Error()),
			)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// parsePositiveInt parses s as a non-negative integer, returning def when s
// is empty, malformed, or negative.
func parsePositiveInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
