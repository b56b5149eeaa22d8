package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/devices"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/replicas"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Replicas(db dbx.DBTX) replicas.Repository
	Devices(db dbx.DBTX) devices.Repository
}
