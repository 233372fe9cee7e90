package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"learnhub/internal/core"
	"learnhub/internal/external"
	"learnhub/internal/types"
)

// SessionRepo defines the data access contract for session operations.
// Mirrors the concrete db.SessionRepository methods this handler uses.
type SessionRepo interface {
	Create(ctx context.Context, s *types.LearningSession) error
	GetByID(ctx context.Context, id string) (*types.LearningSession, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]types.LearningSession, error)
	MarkActive(ctx context.Context, id string, callID *string) error
	Complete(ctx context.Context, id string, transcript *string, durationSecs int, completedAt time.Time) error
	Rate(ctx context.Context, id string, rating int, feedback *string) error
	Stats(ctx context.Context, userID string) (*types.SessionStats, error)
}

// SessionCompanionRepo is the companion lookup the session handler needs.
type SessionCompanionRepo interface {
	GetByID(ctx context.Context, id string) (*types.Companion, error)
}

// SessionLimitChecker gates session starts against the user's plan.
type SessionLimitChecker interface {
	CheckSessionLimit(ctx context.Context, userID string) types.LimitCheck
}

// StartSessionRequest is the request body for POST /v1/sessions.
type StartSessionRequest struct {
	CompanionID string `json:"companion_id" validate:"required"`
}

// StartSessionResponse carries the created session and, when the voice call
// was placed, the browser URL to join it.
type StartSessionResponse struct {
	Session    *types.LearningSession `json:"session"`
	WebCallURL string                 `json:"web_call_url,omitempty"`
}

// RateSessionRequest is the request body for POST /v1/sessions/{id}/rate.
type RateSessionRequest struct {
	Rating   int     `json:"rating" validate:"required,min=1,max=5"`
	Feedback *string `json:"feedback" validate:"omitempty,max=2000"`
}

// SessionHandler manages the voice tutoring session lifecycle. The voice
// call itself is best-effort: the vendor failing to answer leaves the
// session active without a call, and completion falls back to wall-clock
// duration.
type SessionHandler struct {
	sessions   SessionRepo
	companions SessionCompanionRepo
	limits     SessionLimitChecker
	assistants external.AssistantService
	validator  *core.Validator
	logger     *slog.Logger
	now        func() time.Time
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	sessions SessionRepo,
	companions SessionCompanionRepo,
	limits SessionLimitChecker,
	assistants external.AssistantService,
	v *core.Validator,
	l *slog.Logger,
) *SessionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SessionHandler{
		sessions:   sessions,
		companions: companions,
		limits:     limits,
		assistants: assistants,
		validator:  v,
		logger:     l,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the handler's time source. Used by tests.
func (h *SessionHandler) WithClock(now func() time.Time) *SessionHandler {
	h.now = now
	return h
}

// RegisterRoutes mounts session routes onto the provided router.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Get("/", h.List)
		r.Get("/stats", h.Stats)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/complete", h.Complete)
		r.Post("/{id}/rate", h.Rate)
	})
}

// Start handles POST /v1/sessions. Checks the monthly session limit, creates
// the session row, and places the vendor web call best-effort.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req StartSessionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	check := h.limits.CheckSessionLimit(r.Context(), actor.ID)
	if !check.Allowed {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeLimitSessions,
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

	companion, err := h.companions.GetByID(r.Context(), req.CompanionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	session := &types.LearningSession{
		UserID:      actor.ID,
		CompanionID: companion.ID,
		Status:      types.SessionPending,
		StartedAt:   h.now(),
	}
	if err := h.sessions.Create(r.Context(), session); err != nil {
		core.Error(w, r, err)
		return
	}

	webCallURL := h.placeCall(r.Context(), session, companion)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: StartSessionResponse{
		Session:    session,
		WebCallURL: webCallURL,
	}})
}

// placeCall creates the vendor web call and transitions the session to
// active. Vendor failure still activates the session (without a call) so the
// user is not charged a limit slot for nothing they can retry.
func (h *SessionHandler) placeCall(ctx context.Context, session *types.LearningSession, companion *types.Companion) string {
	var callID *string
	var webCallURL string

	if h.assistants != nil && companion.AssistantID != nil {
		call, err := h.assistants.CreateWebCall(ctx, *companion.AssistantID, external.CallOverrides{
			VariableValues: map[string]string{
				"topic": companion.Topic,
			},
		})
		if err != nil {
			h.logger.Warn("web call placement failed",
				slog.String("session_id", session.ID),
				slog.String("companion_id", companion.ID),
				slog.String("error", err.Error()),
			)
		} else {
			callID = &call.ID
			webCallURL = call.WebCallURL
		}
	}

	if err := h.sessions.MarkActive(ctx, session.ID, callID); err != nil {
		h.logger.Error("failed to activate session",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		return webCallURL
	}
	session.Status = types.SessionActive
	session.CallID = callID
	return webCallURL
}

// List handles GET /v1/sessions. Returns the caller's sessions, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	limit := parsePositiveInt(r.URL.Query().Get("limit"), 20)
	sessions, err := h.sessions.ListByUser(r.Context(), actor.ID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: sessions})
}

// Stats handles GET /v1/sessions/stats.
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	stats, err := h.sessions.Stats(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: stats})
}

// Get handles GET /v1/sessions/{id}. Sessions are private to their user.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	session, err := h.ownedSession(w, r, actor)
	if err != nil {
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: session})
}

// Complete handles POST /v1/sessions/{id}/complete. Pulls the transcript and
// duration from the vendor call when one exists; otherwise derives duration
// from the session start time.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	session, err := h.ownedSession(w, r, actor)
	if err != nil {
		return
	}

	if session.Status != types.SessionActive && session.Status != types.SessionPending {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictSessionState,
			"session is already finished",
			nil,
		))
		return
	}

	completedAt := h.now()
	durationSecs := int(completedAt.Sub(session.StartedAt).Seconds())
	var transcript *string

	if h.assistants != nil && session.CallID != nil {
		call, err := h.assistants.GetCall(r.Context(), *session.CallID)
		if err != nil {
			h.logger.Warn("call retrieval failed, deriving duration locally",
				slog.String("session_id", session.ID),
				slog.String("call_id", *session.CallID),
				slog.String("error", err.Error()),
			)
		} else {
			if call.Transcript != "" {
				transcript = &call.Transcript
			}
			if call.DurationSeconds > 0 {
				durationSecs = call.DurationSeconds
			}
		}
	}

	if err := h.sessions.Complete(r.Context(), session.ID, transcript, durationSecs, completedAt); err != nil {
		core.Error(w, r, err)
		return
	}

	session.Status = types.SessionCompleted
	session.Transcript = transcript
	session.DurationSecs = &durationSecs
	session.CompletedAt = &completedAt

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: session})
}

// Rate handles POST /v1/sessions/{id}/rate.
func (h *SessionHandler) Rate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req RateSessionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.ownedSession(w, r, actor)
	if err != nil {
		return
	}

	if err := h.sessions.Rate(r.Context(), session.ID, req.Rating, req.Feedback); err != nil {
		core.Error(w, r, err)
		return
	}

	session.Rating = &req.Rating
	session.Feedback = req.Feedback
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: session})
}

// ownedSession loads the session from the URL and enforces that it belongs
// to the actor. On failure it writes the error response and returns non-nil
// error so callers can simply return.
func (h *SessionHandler) ownedSession(w http.ResponseWriter, r *http.Request, actor types.Actor) (*types.LearningSession, error) {
	session, err := h.sessions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return nil, err
	}
	if session.UserID != actor.ID {
		// Respond 404, not 403: revealing that the session exists leaks
		// other users' activity.
		appErr := types.NewAppError(types.ErrCodeNotFoundSession, "session not found", nil)
		core.Error(w, r, appErr)
		return nil, appErr
	}
	return session, nil
}
