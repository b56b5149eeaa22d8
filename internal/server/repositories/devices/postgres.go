package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Touch(ctx context.Context, id string) (*models.Device, error) {
	query := `INSERT INTO devices (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET last_seen = now()
		RETURNING first_seen, last_seen`

	d := &models.Device{ID: id}
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&d.FirstSeen, &d.LastSeen); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Device, error) {
	query := `SELECT id, first_seen, last_seen FROM devices WHERE id = $1`

	d := &models.Device{}
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.FirstSeen, &d.LastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}
