package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-feed-engine/internal/models"
)

// CheckpointRepository keeps the change feed watermark of every watched table.
type CheckpointRepository struct {
	db *sqlx.DB
}

// NewCheckpointRepository creates a new instance of CheckpointRepository.
func NewCheckpointRepository(db *sqlx.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get returns the stored cursor. A table without a checkpoint starts at the zero cursor.
func (r *CheckpointRepository) Get(ctx context.Context, table string) (models.Cursor, error) {
	var cursor models.Cursor
	err := r.db.GetContext(ctx, &cursor, `SELECT updated_at, last_id FROM feed_checkpoints WHERE table_name = $1`, table)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Cursor{}, nil
	}
	if err != nil {
		return models.Cursor{}, fmt.Errorf("get checkpoint %s: %w", table, err)
	}
	return cursor, nil
}

// Save moves the watermark forward. A cursor behind the stored one is ignored.
func (r *CheckpointRepository) Save(ctx context.Context, table string, cursor models.Cursor) error {
	const query = `INSERT INTO feed_checkpoints (table_name, updated_at, last_id, saved_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (table_name) DO UPDATE SET updated_at = EXCLUDED.updated_at, last_id = EXCLUDED.last_id, saved_at = EXCLUDED.saved_at
WHERE (feed_checkpoints.updated_at, feed_checkpoints.last_id) < (EXCLUDED.updated_at, EXCLUDED.last_id)`
	if _, err := r.db.ExecContext(ctx, query, table, cursor.UpdatedAt, cursor.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", table, err)
	}
	return nil
}
