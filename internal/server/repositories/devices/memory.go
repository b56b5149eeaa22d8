package devices

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

type MemoryRepository struct {
	mu      sync.Mutex
	devices map[string]models.Device
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[string]models.Device), now: time.Now}
}

func (r *MemoryRepository) Touch(_ context.Context, id string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	d, ok := r.devices[id]
	if !ok {
		d = models.Device{ID: id, FirstSeen: now}
	}
	d.LastSeen = now
	r.devices[id] = d
	return &d, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &d, nil
}
