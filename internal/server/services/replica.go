// Package services holds the server use cases behind the transports.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/models"
	smodels "github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/repomanager"
)

var ErrInvalidMutation = errors.New("invalid mutation")

// ReplicaService applies pushed mutations under last-write-wins, serves
// full pulls and feeds applied changes to the hub.
type ReplicaService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hub         *Hub
	logger      logging.Logger
}

func NewReplicaService(db *sql.DB, m repomanager.RepositoryManager, hub *Hub, logger logging.Logger) *ReplicaService {
	return &ReplicaService{
		db:          db,
		repomanager: m,
		hub:         hub,
		logger:      logger.With("module", "replica_service"),
	}
}

// Push stores m and reports whether it changed the replica. Replays and
// older versions are accepted without effect.
func (s *ReplicaService) Push(ctx context.Context, m models.Mutation) (bool, error) {
	if !m.Operation.Valid() || m.Collection == "" || m.ID == "" {
		return false, ErrInvalidMutation
	}
	rec, err := smodels.FromMutation(m)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidMutation, err)
	}

	applied, err := s.repomanager.Replicas(s.db).Upsert(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("upsert %s/%s: %w", m.Collection, m.ID, err)
	}

	s.logger.Debug(ctx, "push", "collection", m.Collection, "id", m.ID, "op", m.Operation, "applied", applied)
	if !applied {
		return false, nil
	}

	change, err := rec.Change()
	if err != nil {
		s.logger.Error(ctx, "cannot broadcast change", "collection", m.Collection, "id", m.ID, "error", err)
		return true, nil
	}
	s.hub.Publish(ctx, change)
	return true, nil
}

// PullAll returns every live record of collection.
func (s *ReplicaService) PullAll(ctx context.Context, collection string) ([]*models.Record, error) {
	rows, err := s.repomanager.Replicas(s.db).SelectLive(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.Record()
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, row.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get returns one row including tombstones.
func (s *ReplicaService) Get(ctx context.Context, collection, id string) (*smodels.ReplicaRecord, error) {
	return s.repomanager.Replicas(s.db).Get(ctx, collection, id)
}

func (s *ReplicaService) Collections(ctx context.Context) ([]string, error) {
	return s.repomanager.Replicas(s.db).Collections(ctx)
}

func (s *ReplicaService) Subscribe(collection string) *Subscriber {
	return s.hub.Subscribe(collection)
}

func (s *ReplicaService) Unsubscribe(sub *Subscriber) {
	s.hub.Unsubscribe(sub)
}
