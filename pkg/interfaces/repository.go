package interfaces

import (
	"context"

	"github.com/m-mizutani/mnemo/pkg/model"
)

// Repository persists and restores memory store snapshots
type Repository interface {
	// Save stores the snapshot, replacing any previous state
	Save(ctx context.Context, snapshot *model.Snapshot) error

	// Load restores the latest snapshot. It returns (nil, nil) if no complete state exists.
	Load(ctx context.Context) (*model.Snapshot, error)

	// Close releases backend resources
	Close() error
}
