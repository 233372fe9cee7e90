package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"learnhub/internal/types"
)

// CompanionRepository provides data access for the companions table.
type CompanionRepository struct {
	db DBTX
}

// NewCompanionRepository creates a new CompanionRepository backed by the
// given database connection (pool or transaction).
func NewCompanionRepository(db DBTX) *CompanionRepository {
	return &CompanionRepository{db: db}
}

// companionColumns defines the standard set of columns selected for
// companion queries. Used consistently across all query methods to avoid
// column drift.
const companionColumns = `c.id, c.author_id, c.name, c.subject, c.topic,
	c.style, c.voice, c.duration, c.assistant_id, c.created_at, c.updated_at`

// scanCompanion scans a single companion row. The columns must match the
// order defined in companionColumns.
func scanCompanion(row pgx.Row) (*types.Companion, error) {
	var c types.Companion
	err := row.Scan(
		&c.ID,
		&c.AuthorID,
		&c.Name,
		&c.Subject,
		&c.Topic,
		&c.Style,
		&c.Voice,
		&c.Duration,
		&c.AssistantID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new companion and fills in its generated id.
func (r *CompanionRepository) Create(ctx context.Context, c *types.Companion) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO companions (id, author_id, name, subject, topic, style, voice,
		 duration, assistant_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		c.ID,
		c.AuthorID,
		c.Name,
		c.Subject,
		c.Topic,
		c.Style,
		c.Voice,
		c.Duration,
		c.AssistantID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create companion", err)
	}
	return nil
}

// GetByID retrieves a companion by id.
// Returns ErrCodeNotFoundCompanion if no companion is found.
func (r *CompanionRepository) GetByID(ctx context.Context, id string) (*types.Companion, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+companionColumns+`
		 FROM companions c
		 WHERE c.id = $1`,
		id,
	)

	c, err := scanCompanion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCompanion, "companion not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve companion", err)
	}
	return c, nil
}

// CompanionFilter narrows List queries. Zero values mean "no filter".
type CompanionFilter struct {
	Subject string
	Topic   string // matched case-insensitively against topic and name
	Limit   int
	Offset  int
}

// List returns companions matching the filter, newest first, along with the
// total match count for pagination. Topic search is a case-insensitive
// substring match over topic and name.
func (r *CompanionRepository) List(ctx context.Context, f CompanionFilter) ([]types.Companion, int, error) {
	where := []string{"1=1"}
	args := []any{}

	if f.Subject != "" {
		args = append(args, f.Subject)
		where = append(where, fmt.Sprintf("c.subject = $%d", len(args)))
	}
	if f.Topic != "" {
		args = append(args, "%"+strings.ToLower(f.Topic)+"%")
		where = append(where, fmt.Sprintf("(LOWER(c.topic) LIKE $%d OR LOWER(c.name) LIKE $%d)", len(args), len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM companions c WHERE `+cond,
		args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count companions", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	args = append(args, limit)
	limitPos := len(args)
	args = append(args, f.Offset)
	offsetPos := len(args)

	rows, err := r.db.Query(ctx,
		`SELECT `+companionColumns+`
		 FROM companions c
		 WHERE `+cond+`
		 ORDER BY c.created_at DESC
		 LIMIT $`+fmt.Sprint(limitPos)+` OFFSET $`+fmt.Sprint(offsetPos),
		args...,
	)
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to list companions", err)
	}
	defer rows.Close()

	var out []types.Companion
	for rows.Next() {
		c, err := scanCompanion(rows)
		if err != nil {
			return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to scan companion", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate companions", err)
	}
	return out, total, nil
}

// ListByAuthor returns all companions created by the given user, newest first.
func (r *CompanionRepository) ListByAuthor(ctx context.Context, authorID string) ([]types.Companion, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+companionColumns+`
		 FROM companions c
		 WHERE c.author_id = $1
		 ORDER BY c.created_at DESC`,
		authorID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list companions by author", err)
	}
	defer rows.Close()

	var out []types.Companion
	for rows.Next() {
		c, err := scanCompanion(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan companion", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate companions", err)
	}
	return out, nil
}

// Stats counts the full catalog and the user's own companions in one round trip.
func (r *CompanionRepository) Stats(ctx context.Context, authorID string) (*types.CompanionStats, error) {
	var stats types.CompanionStats
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE author_id = $1)
		 FROM companions`,
		authorID,
	).Scan(&stats.TotalCompanions, &stats.UserCompanions)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate companion stats", err)
	}
	return &stats, nil
}

// Update applies changes to a companion's mutable fields.
func (r *CompanionRepository) Update(ctx context.Context, c *types.Companion) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE companions
		 SET name = $1, subject = $2, topic = $3, style = $4, voice = $5,
		     duration = $6, updated_at = NOW()
		 WHERE id = $7`,
		c.Name,
		c.Subject,
		c.Topic,
		c.Style,
		c.Voice,
		c.Duration,
		c.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update companion", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCompanion, "companion not found", nil)
	}
	return nil
}

// SetAssistantID records the voice vendor's assistant reference after
// provisioning succeeds.
func (r *CompanionRepository) SetAssistantID(ctx context.Context, id string, assistantID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE companions SET assistant_id = $1, updated_at = NOW()
		 WHERE id = $2`,
		assistantID,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set assistant id", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCompanion, "companion not found", nil)
	}
	return nil
}

// Delete removes a companion.
func (r *CompanionRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM companions WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete companion", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCompanion, "companion not found", nil)
	}
	return nil
}
