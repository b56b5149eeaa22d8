// Package replicas persists the authoritative record copies.
package replicas

import (
	"context"

	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

// Repository stores replica rows under last-write-wins. Upsert reports
// whether the row was written; an incoming row that is not strictly newer
// than the stored one leaves it unchanged.
type Repository interface {
	Upsert(ctx context.Context, rec *models.ReplicaRecord) (bool, error)
	Get(ctx context.Context, collection, id string) (*models.ReplicaRecord, error)
	SelectLive(ctx context.Context, collection string) ([]*models.ReplicaRecord, error)
	Collections(ctx context.Context) ([]string, error)
}
