package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pgx/v5/pgconn"

	"learnhub/internal/types"
)

// scanUserRow populates the destinations of a user select in column order.
func scanUserRow(u types.User) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = u.ID
		*dest[1].(*string) = u.ClerkID
		*dest[2].(*string) = u.Email
		*dest[3].(**string) = nilIfEmpty(u.Name)
		*dest[4].(**string) = u.ImageURL
		*dest[5].(*types.Preferences) = u.Preferences
		*dest[6].(*time.Time) = u.CreatedAt
		*dest[7].(*time.Time) = u.UpdatedAt
		return nil
	}
}

func TestUserRepository_GetByClerkID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	want := types.User{
		ID:      "usr_1",
		ClerkID: "user_2abc",
		Email:   "alex@example.com",
		Name:    "Alex",
	}

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"user_2abc"}).
		Return(&mockRow{scanFn: scanUserRow(want)})

	got, err := repo.GetByClerkID(context.Background(), "user_2abc")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", got.ID)
	assert.Equal(t, "Alex", got.Name)
}

func TestUserRepository_GetByClerkID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByClerkID(context.Background(), "user_unknown")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

func TestUserRepository_Provision_ReturnsRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	want := types.User{
		ID:      "usr_new",
		ClerkID: "user_2new",
		Email:   "new@example.com",
	}

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: scanUserRow(want)})

	got, err := repo.Provision(context.Background(), "user_2new", "new@example.com", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "usr_new", got.ID)
	assert.Equal(t, "user_2new", got.ClerkID)
}

func TestUserRepository_MergeFromProvider_MissingUserNotAnError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	merged, err := repo.MergeFromProvider(context.Background(), "user_ghost", "g@example.com", "Ghost", nil)
	require.NoError(t, err)
	assert.False(t, merged)
}

func TestUserRepository_MergeFromProvider_Applied(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	merged, err := repo.MergeFromProvider(context.Background(), "user_2abc", "alex@example.com", "Alex", nil)
	require.NoError(t, err)
	assert.True(t, merged)
}

func TestUserRepository_UpdatePreferences_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdatePreferences(context.Background(), "usr_ghost", types.Preferences{})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}
