package store

import (
	"context"

	"github.com/mwantia/assetsync/pkg/db/models"
)

// StateStore defines the interface for database operations
type StateStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error

	// Local state operations
	GetState(ctx context.Context, destination, path string) (*models.LocalState, error)
	ListStates(ctx context.Context, destination string) ([]models.LocalState, error)
	StateIndex(ctx context.Context, destination string) (map[string]*models.LocalState, error)
	SaveStates(ctx context.Context, states []*models.LocalState) error
	DeleteStates(ctx context.Context, destination string, paths []string) error

	// Run operations
	CreateRun(ctx context.Context, run *models.SyncRun) error
	UpdateRun(ctx context.Context, run *models.SyncRun) error
	GetRun(ctx context.Context, id string) (*models.SyncRun, error)
	ListRuns(ctx context.Context, destination string, limit int) ([]models.SyncRun, error)
	LastSuccessfulRun(ctx context.Context, destination, command string) (*models.SyncRun, error)
}
