package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"learnhub/internal/types"
)

func TestSessionRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	session := &types.LearningSession{
		UserID:      "usr_1",
		CompanionID: "cmp_1",
		Status:      types.SessionPending,
		StartedAt:   time.Now().UTC(),
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(context.Background(), session)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID, "Create should generate an id")
	db.AssertExpectations(t)
}

func TestSessionRepository_MarkActive_AlreadyActive(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.MarkActive(context.Background(), "sess_1", nil)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictSessionState, appErr.Code)
}

func TestSessionRepository_Complete_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	transcript := "tutor: welcome back"
	err := repo.Complete(context.Background(), "sess_1", &transcript, 540, time.Now().UTC())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSessionRepository_Complete_AlreadyFinalized(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Complete(context.Background(), "sess_1", nil, 0, time.Now().UTC())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictSessionState, appErr.Code)
}

func TestSessionRepository_Rate_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	feedback := "clear explanations"
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{5, &feedback, "sess_1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Rate(context.Background(), "sess_1", 5, &feedback)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSessionRepository_Rate_NotCompleted(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Rate(context.Background(), "sess_1", 4, nil)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictSessionState, appErr.Code)
}

func TestSessionRepository_Stats(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"usr_1"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int) = 12
			*dest[1].(*int) = 10
			*dest[2].(*int) = 95
			*dest[3].(*float64) = 4.5
			return nil
		}})

	stats, err := repo.Stats(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.Equal(t, 12, stats.TotalSessions)
	assert.Equal(t, 10, stats.CompletedSessions)
	assert.Equal(t, 95, stats.TotalMinutes)
	assert.InDelta(t, 4.5, stats.AverageRating, 0.001)
}

func TestSessionRepository_ListByUser(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	base := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	rows := newMockRows(2, func(idx int, dest ...any) error {
		*dest[0].(*string) = []string{"sess_2", "sess_1"}[idx]
		*dest[1].(*string) = "usr_1"
		*dest[2].(*string) = "cmp_1"
		*dest[3].(*types.SessionStatus) = types.SessionCompleted
		*dest[4].(**string) = nil
		*dest[5].(**string) = nil
		*dest[6].(**int) = nil
		*dest[7].(**int) = nil
		*dest[8].(**string) = nil
		*dest[9].(*time.Time) = base.Add(time.Duration(-idx) * time.Hour)
		*dest[10].(**time.Time) = nil
		*dest[11].(*time.Time) = base
		*dest[12].(*time.Time) = base
		return nil
	})

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	out, err := repo.ListByUser(context.Background(), "usr_1", 20)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "sess_2", out[0].ID)
}
