package replicas

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

type key struct{ collection, id string }

// MemoryRepository is an in-process Repository with the same conflict rules
// as the Postgres one.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[key]models.ReplicaRecord
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[key]models.ReplicaRecord), now: time.Now}
}

func (r *MemoryRepository) Upsert(_ context.Context, rec *models.ReplicaRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{rec.Collection, rec.ID}
	if cur, ok := r.rows[k]; ok && cur.LastModified >= rec.LastModified {
		return false, nil
	}
	row := *rec
	row.Payload = append([]byte(nil), rec.Payload...)
	if len(row.Payload) == 0 {
		row.Payload = []byte("{}")
	}
	row.UpdatedAt = r.now().UTC()
	r.rows[k] = row
	return true, nil
}

func (r *MemoryRepository) Get(_ context.Context, collection, id string) (*models.ReplicaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[key{collection, id}]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &row, nil
}

func (r *MemoryRepository) SelectLive(_ context.Context, collection string) ([]*models.ReplicaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.ReplicaRecord
	for k, row := range r.rows {
		if k.collection == collection && !row.Deleted {
			row := row
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) Collections(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for k := range r.rows {
		seen[k.collection] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
