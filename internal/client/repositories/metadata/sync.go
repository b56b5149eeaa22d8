package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/models"
	"github.com/google/uuid"
)

const (
	KeyDeviceID      = "device_id"
	KeyLastSyncAt    = "last_sync_at"
	KeySchemaVersion = "schema_version"
)

// newDeviceID is a seam for tests.
var newDeviceID = func() string { return uuid.NewString() }

// SyncMetadata exposes the singleton sync metadata record.
type SyncMetadata struct {
	repo Repository
}

func NewSyncMetadata(repo Repository) *SyncMetadata {
	return &SyncMetadata{repo: repo}
}

// DeviceID returns the installation identifier, generating it on first use.
// The write is compare-and-set: if another caller stored an id first, that id
// is returned and the freshly generated one is dropped.
func (m *SyncMetadata) DeviceID(ctx context.Context) (string, error) {
	v, err := m.repo.Get(ctx, KeyDeviceID)
	if err != nil {
		return "", err
	}
	if len(v) > 0 {
		return string(v), nil
	}

	if _, err := m.repo.SetIfAbsent(ctx, KeyDeviceID, []byte(newDeviceID())); err != nil {
		return "", err
	}

	v, err = m.repo.Get(ctx, KeyDeviceID)
	if err != nil {
		return "", err
	}
	if len(v) == 0 {
		return "", errors.New("device id missing after insert")
	}
	return string(v), nil
}

// LastSyncAt returns the time of the last successful sync. ok is false if the
// installation never synced.
func (m *SyncMetadata) LastSyncAt(ctx context.Context) (t time.Time, ok bool, err error) {
	v, err := m.repo.Get(ctx, KeyLastSyncAt)
	if err != nil || v == nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid %s value %q: %w", KeyLastSyncAt, v, err)
	}
	return models.FromMillis(ms), true, nil
}

// SetLastSyncAt records t as the last successful sync time.
func (m *SyncMetadata) SetLastSyncAt(ctx context.Context, t time.Time) error {
	return m.repo.Set(ctx, KeyLastSyncAt, []byte(strconv.FormatInt(models.Millis(t), 10)))
}

// SchemaVersion returns the stored declared schema version, 0 when unset.
func (m *SyncMetadata) SchemaVersion(ctx context.Context) (int, error) {
	v, err := m.repo.Get(ctx, KeySchemaVersion)
	if err != nil || v == nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", KeySchemaVersion, v, err)
	}
	return n, nil
}

// SetSchemaVersion stores the declared schema version.
func (m *SyncMetadata) SetSchemaVersion(ctx context.Context, version int) error {
	return m.repo.Set(ctx, KeySchemaVersion, []byte(strconv.Itoa(version)))
}
