package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"learnhub/internal/types"
)

// UserRepository provides data access for the users table. Accounts are
// keyed by the external identity provider's user id (clerk_id) and created
// lazily on first authenticated request.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// userColumns defines the standard set of columns selected for user queries.
// Used consistently across all query methods to avoid column drift.
const userColumns = `u.id, u.clerk_id, u.email, u.name, u.image_url,
	u.preferences, u.created_at, u.updated_at`

// scanUser scans a single user row into a types.User struct.
// The columns must match the order defined in userColumns.
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var (
		name     *string
		imageURL *string
	)
	err := row.Scan(
		&u.ID,
		&u.ClerkID,
		&u.Email,
		&name,
		&imageURL,
		&u.Preferences,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if name != nil {
		u.Name = *name
	}
	u.ImageURL = imageURL
	return &u, nil
}

// GetByID retrieves a user by their internal id.
// Returns ErrCodeNotFoundUser if no user is found.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.id = $1`,
		id,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// GetByClerkID retrieves a user by their external identity id.
// Returns ErrCodeNotFoundUser if no user is found.
func (r *UserRepository) GetByClerkID(ctx context.Context, clerkID string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.clerk_id = $1`,
		clerkID,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// Provision creates the local account for an external identity if it does
// not exist yet, refreshing profile fields either way, and returns the row.
// Concurrent first requests race on the clerk_id unique index; the upsert
// makes the race harmless.
func (r *UserRepository) Provision(ctx context.Context, clerkID, email, name string, imageURL *string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO users (id, clerk_id, email, name, image_url, preferences, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, '{}', NOW(), NOW())
		 ON CONFLICT (clerk_id) DO UPDATE
		 SET email = EXCLUDED.email,
		     name = COALESCE(EXCLUDED.name, users.name),
		     image_url = COALESCE(EXCLUDED.image_url, users.image_url),
		     updated_at = NOW()
		 RETURNING id, clerk_id, email, name, image_url, preferences, created_at, updated_at`,
		uuid.NewString(),
		clerkID,
		email,
		nilIfEmpty(name),
		imageURL,
	)

	u, err := scanUser(row)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to provision user", err)
	}
	return u, nil
}

// MergeFromProvider applies profile fields pushed by the identity provider
// to an existing local user. A missing local row is not an error: the
// account simply has not been provisioned yet, and the next authenticated
// visit will pick up current provider state anyway.
func (r *UserRepository) MergeFromProvider(ctx context.Context, clerkID, email, name string, imageURL *string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE users
		 SET email = COALESCE(NULLIF($1, ''), email),
		     name = COALESCE(NULLIF($2, ''), name),
		     image_url = COALESCE($3, image_url),
		     updated_at = NOW()
		 WHERE clerk_id = $4`,
		email,
		name,
		imageURL,
		clerkID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to merge user from provider", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateProfile updates the mutable display fields of a user.
func (r *UserRepository) UpdateProfile(ctx context.Context, userID string, name string, imageURL *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET name = $1, image_url = $2, updated_at = NOW()
		 WHERE id = $3`,
		nilIfEmpty(name),
		imageURL,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update profile", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// UpdatePreferences replaces the user's preferences document.
func (r *UserRepository) UpdatePreferences(ctx context.Context, userID string, prefs types.Preferences) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET preferences = $1, updated_at = NOW()
		 WHERE id = $2`,
		prefs,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update preferences", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}
