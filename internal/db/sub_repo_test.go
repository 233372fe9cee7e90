package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"learnhub/internal/types"
)

func testSubscription() *types.Subscription {
	custID := "cus_123"
	subID := "sub_456"
	return &types.Subscription{
		ID:                  "11111111-1111-1111-1111-111111111111",
		UserID:              "usr_1",
		PlanID:              "core-learner",
		Tier:                types.TierBasic,
		Status:              types.SubStatusActive,
		CurrentPeriodStart:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:    time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		ClerkCustomerID:     &custID,
		ClerkSubscriptionID: &subID,
	}
}

func TestSubscriptionRepository_GetByUser_NoRowsIsNotAnError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	sub, err := repo.GetByUser(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestSubscriptionRepository_GetByUser_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	_, err := repo.GetByUser(context.Background(), "usr_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestSubscriptionRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(context.Background(), testSubscription())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_Create_GeneratesID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	sub := testSubscription()
	sub.ID = ""
	require.NoError(t, repo.Create(context.Background(), sub))
	assert.NotEmpty(t, sub.ID)
}

func TestSubscriptionRepository_Create_Conflict(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), testSubscription())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictSubscription, appErr.Code)
}

func TestSubscriptionRepository_Update_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Update(context.Background(), testSubscription())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSubscription, appErr.Code)
}

func TestSubscriptionRepository_Cancel_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Cancel(context.Background(), "usr_1")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_Cancel_NoActiveRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Cancel(context.Background(), "usr_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSubscription, appErr.Code)
}

func TestSubscriptionRepository_Upsert_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Upsert(context.Background(), testSubscription())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_GetTier(t *testing.T) {
	now := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		scanErr error
		mutate  func(*types.Subscription)
		want    types.PlanTier
	}{
		{
			name: "active unexpired subscription grants its tier",
			want: types.TierBasic,
		},
		{
			name:    "no subscription row yields free",
			scanErr: pgx.ErrNoRows,
			want:    types.TierFree,
		},
		{
			name:   "cancelled subscription yields free",
			mutate: func(s *types.Subscription) { s.Status = types.SubStatusCancelled },
			want:   types.TierFree,
		},
		{
			name: "expired period yields free",
			mutate: func(s *types.Subscription) {
				s.CurrentPeriodEnd = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
			},
			want: types.TierFree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewSubscriptionRepository(db, nil)

			sub := testSubscription()
			if tt.mutate != nil {
				tt.mutate(sub)
			}

			row := &mockRow{scanErr: tt.scanErr}
			if tt.scanErr == nil {
				row = &mockRow{scanFn: func(dest ...any) error {
					*dest[0].(*string) = sub.ID
					*dest[1].(*string) = sub.UserID
					*dest[2].(*string) = sub.PlanID
					*dest[3].(*types.PlanTier) = sub.Tier
					*dest[4].(*types.SubscriptionStatus) = sub.Status
					*dest[5].(*time.Time) = sub.CurrentPeriodStart
					*dest[6].(*time.Time) = sub.CurrentPeriodEnd
					*dest[7].(*bool) = sub.CancelAtPeriodEnd
					*dest[8].(**string) = sub.ClerkCustomerID
					*dest[9].(**string) = sub.ClerkSubscriptionID
					*dest[10].(*time.Time) = sub.CreatedAt
					*dest[11].(*time.Time) = sub.UpdatedAt
					return nil
				}}
			}
			db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
				Return(row)

			tier, err := repo.GetTier(context.Background(), "usr_1", now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tier)
		})
	}
}
