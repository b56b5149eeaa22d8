package replicas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts the row or replaces a strictly older one. Ties keep the
// stored row, so replays are no-ops.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.ReplicaRecord) (bool, error) {
	query := `
		INSERT INTO replica_records (collection, id, last_modified, deleted, payload, device_id, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, now())
		ON CONFLICT (collection, id)
		DO UPDATE SET
			last_modified = EXCLUDED.last_modified,
			deleted = EXCLUDED.deleted,
			payload = EXCLUDED.payload,
			device_id = EXCLUDED.device_id,
			updated_at = now()
			WHERE replica_records.last_modified < EXCLUDED.last_modified;
	`
	payload := string(rec.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := r.db.ExecContext(ctx, query,
		rec.Collection, rec.ID, rec.LastModified, rec.Deleted, payload, rec.DeviceID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// Get returns the row, tombstones included, or common.ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, collection, id string) (*models.ReplicaRecord, error) {
	query := `SELECT collection, id, last_modified, deleted, payload, device_id, updated_at
		FROM replica_records WHERE collection = $1 AND id = $2`

	rec := &models.ReplicaRecord{}
	err := r.db.QueryRowContext(ctx, query, collection, id).Scan(
		&rec.Collection, &rec.ID, &rec.LastModified, &rec.Deleted, &rec.Payload, &rec.DeviceID, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

// SelectLive returns the non-deleted rows of collection ordered by id.
func (r *PostgresRepository) SelectLive(ctx context.Context, collection string) ([]*models.ReplicaRecord, error) {
	query := `SELECT collection, id, last_modified, deleted, payload, device_id, updated_at
		FROM replica_records WHERE collection = $1 AND NOT deleted ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to select replica records: %w", err)
	}
	defer rows.Close()

	var result []*models.ReplicaRecord
	for rows.Next() {
		var item models.ReplicaRecord
		if err := rows.Scan(
			&item.Collection, &item.ID, &item.LastModified, &item.Deleted,
			&item.Payload, &item.DeviceID, &item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Collections lists the collections that have at least one row.
func (r *PostgresRepository) Collections(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT collection FROM replica_records ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to select collections: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result = append(result, name)
	}
	return result, rows.Err()
}
