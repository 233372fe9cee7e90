package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"learnhub/internal/types"
)

// SessionRepository provides data access for the learning_sessions table.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository backed by the given
// database connection (pool or transaction).
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// sessionColumns defines the standard set of columns selected for session
// queries. Used consistently across all query methods to avoid column drift.
const sessionColumns = `s.id, s.user_id, s.companion_id, s.status, s.call_id,
	s.transcript, s.duration_seconds, s.rating, s.feedback, s.started_at,
	s.completed_at, s.created_at, s.updated_at`

// scanSession scans a single session row. The columns must match the order
// defined in sessionColumns.
func scanSession(row pgx.Row) (*types.LearningSession, error) {
	var s types.LearningSession
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.CompanionID,
		&s.Status,
		&s.CallID,
		&s.Transcript,
		&s.DurationSecs,
		&s.Rating,
		&s.Feedback,
		&s.StartedAt,
		&s.CompletedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new session row and fills in its generated id.
func (r *SessionRepository) Create(ctx context.Context, s *types.LearningSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO learning_sessions (id, user_id, companion_id, status, call_id,
		 started_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		s.ID,
		s.UserID,
		s.CompanionID,
		s.Status,
		s.CallID,
		s.StartedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetByID retrieves a session by id.
// Returns ErrCodeNotFoundSession if no session is found.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*types.LearningSession, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM learning_sessions s
		 WHERE s.id = $1`,
		id,
	)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSession, "session not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve session", err)
	}
	return s, nil
}

// ListByUser returns the user's sessions, newest first, capped at limit.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]types.LearningSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM learning_sessions s
		 WHERE s.user_id = $1
		 ORDER BY s.started_at DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list sessions", err)
	}
	defer rows.Close()

	var out []types.LearningSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan session", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate sessions", err)
	}
	return out, nil
}

// MarkActive transitions a pending session to active once the voice call is
// established. Guarding on the current status keeps double deliveries of
// vendor callbacks idempotent.
func (r *SessionRepository) MarkActive(ctx context.Context, id string, callID *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE learning_sessions
		 SET status = 'active', call_id = COALESCE($1, call_id), updated_at = NOW()
		 WHERE id = $2 AND status = 'pending'`,
		callID,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate session", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictSessionState, "session is not pending", nil)
	}
	return nil
}

// Complete finalizes a session with its transcript and duration. Only
// pending or active sessions can complete; completing twice is a conflict.
func (r *SessionRepository) Complete(ctx context.Context, id string, transcript *string, durationSecs int, completedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE learning_sessions
		 SET status = 'completed', transcript = $1, duration_seconds = $2,
		     completed_at = $3, updated_at = NOW()
		 WHERE id = $4 AND status IN ('pending', 'active')`,
		transcript,
		durationSecs,
		completedAt,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete session", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictSessionState, "session already finalized", nil)
	}
	return nil
}

// Rate records a 1-5 rating and optional free-text feedback on a completed
// session.
func (r *SessionRepository) Rate(ctx context.Context, id string, rating int, feedback *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE learning_sessions SET rating = $1, feedback = $2, updated_at = NOW()
		 WHERE id = $3 AND status = 'completed'`,
		rating,
		feedback,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to rate session", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictSessionState, "only completed sessions can be rated", nil)
	}
	return nil
}

// Stats aggregates the user's tutoring history in a single round trip.
func (r *SessionRepository) Stats(ctx context.Context, userID string) (*types.SessionStats, error) {
	var stats types.SessionStats
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COALESCE(SUM(duration_seconds) FILTER (WHERE status = 'completed'), 0) / 60,
		        COALESCE(AVG(rating) FILTER (WHERE rating IS NOT NULL), 0)
		 FROM learning_sessions
		 WHERE user_id = $1`,
		userID,
	).Scan(
		&stats.TotalSessions,
		&stats.CompletedSessions,
		&stats.TotalMinutes,
		&stats.AverageRating,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate session stats", err)
	}
	return &stats, nil
}
