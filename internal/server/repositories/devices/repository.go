// Package devices tracks the installations that talk to the server.
package devices

import (
	"context"

	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

type Repository interface {
	// Touch registers id on first sight and bumps last_seen afterwards.
	Touch(ctx context.Context, id string) (*models.Device, error)
	Get(ctx context.Context, id string) (*models.Device, error)
}
