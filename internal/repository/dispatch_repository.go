package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-feed-engine/internal/models"
)

// DispatchRepository stores the per-item fan-out log.
type DispatchRepository struct {
	db *sqlx.DB
}

// NewDispatchRepository creates a new instance of DispatchRepository.
func NewDispatchRepository(db *sqlx.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

const dispatchColumns = `content_type, content_id, version, audience_hash, audience_size, delivered, complete, updated_at`

// Get returns the record for a content item or nil when it was never dispatched.
func (r *DispatchRepository) Get(ctx context.Context, contentType models.ContentType, contentID string) (*models.DispatchRecord, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatch_log WHERE content_type = $1 AND content_id = $2`
	var rec models.DispatchRecord
	if err := r.db.GetContext(ctx, &rec, query, contentType, contentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dispatch record: %w", err)
	}
	return &rec, nil
}

// Save upserts the record. An older version never overwrites a newer one.
func (r *DispatchRepository) Save(ctx context.Context, rec *models.DispatchRecord) error {
	const query = `INSERT INTO dispatch_log (content_type, content_id, version, audience_hash, audience_size, delivered, complete, updated_at)
VALUES (:content_type, :content_id, :version, :audience_hash, :audience_size, :delivered, :complete, :updated_at)
ON CONFLICT (content_type, content_id) DO UPDATE SET
	version = EXCLUDED.version,
	audience_hash = EXCLUDED.audience_hash,
	audience_size = EXCLUDED.audience_size,
	delivered = EXCLUDED.delivered,
	complete = EXCLUDED.complete,
	updated_at = EXCLUDED.updated_at
WHERE dispatch_log.version <= EXCLUDED.version`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("save dispatch record: %w", err)
	}
	return nil
}

// ListIncomplete returns records whose last pass missed part of the audience.
func (r *DispatchRepository) ListIncomplete(ctx context.Context, limit int) ([]models.DispatchRecord, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatch_log WHERE complete = FALSE ORDER BY updated_at ASC LIMIT $1`
	var recs []models.DispatchRecord
	if err := r.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("list incomplete dispatches: %w", err)
	}
	return recs, nil
}
