package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/devices"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/replicas"
)

// MemoryRepositoryManager hands out one shared set of in-memory
// repositories. The db handle passed to the factories is ignored, so it may
// be nil.
type MemoryRepositoryManager struct {
	replicas *replicas.MemoryRepository
	devices  *devices.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		replicas: replicas.NewMemoryRepository(),
		devices:  devices.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *MemoryRepositoryManager) Replicas(dbx.DBTX) replicas.Repository { return m.replicas }

func (m *MemoryRepositoryManager) Devices(dbx.DBTX) devices.Repository { return m.devices }
