package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mwantia/assetsync/pkg/db/migrations"
	"github.com/mwantia/assetsync/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const saveBatchSize = 200

// SQLiteStore implements StateStore using SQLite
type SQLiteStore struct {
	db   *gorm.DB
	path string

	closeOnce sync.Once
	closeErr  error
}

// DB returns the underlying GORM database instance
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path     string
	LogLevel logger.LogLevel
}

// NewSQLiteStore creates a new SQLite-backed state store
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		path: cfg.Path,
	}, nil
}

// Connect initializes the database connection
func (s *SQLiteStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(1) // SQLite only supports 1 writer
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection. Later calls are no-ops.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		sqlDB, err := s.db.DB()
		if err != nil {
			s.closeErr = fmt.Errorf("failed to get database instance: %w", err)
			return
		}
		s.closeErr = sqlDB.Close()
	})
	return s.closeErr
}

// Cleanup closes the store when the owning service container shuts down
func (s *SQLiteStore) Cleanup(ctx context.Context) error {
	return s.Close()
}

// Migrate runs all pending schema migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrations.NewMigrator(s.db).Migrate(ctx)
}

// Health checks database connectivity
func (s *SQLiteStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Local state operations

func (s *SQLiteStore) GetState(ctx context.Context, destination, path string) (*models.LocalState, error) {
	var state models.LocalState
	err := s.db.WithContext(ctx).
		Where("destination = ? AND path = ?", destination, path).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

func (s *SQLiteStore) ListStates(ctx context.Context, destination string) ([]models.LocalState, error) {
	var states []models.LocalState
	err := s.db.WithContext(ctx).
		Where("destination = ?", destination).
		Order("path").
		Find(&states).Error
	return states, err
}

func (s *SQLiteStore) StateIndex(ctx context.Context, destination string) (map[string]*models.LocalState, error) {
	states, err := s.ListStates(ctx, destination)
	if err != nil {
		return nil, err
	}

	index := make(map[string]*models.LocalState, len(states))
	for i := range states {
		index[states[i].Path] = &states[i]
	}
	return index, nil
}

// SaveStates upserts all states keyed on (destination, path) in one transaction
func (s *SQLiteStore) SaveStates(ctx context.Context, states []*models.LocalState) error {
	if len(states) == 0 {
		return nil
	}

	// Rows are matched on (destination, path); primary keys from an
	// earlier read must not take part in the insert.
	rows := make([]*models.LocalState, 0, len(states))
	for _, state := range states {
		row := *state
		row.ID = 0
		rows = append(rows, &row)
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "destination"}, {Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"size", "hash", "changed", "mod_time", "status", "last_error", "synced_at", "updated_at",
			}),
		}).
		CreateInBatches(rows, saveBatchSize).Error
}

func (s *SQLiteStore) DeleteStates(ctx context.Context, destination string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("destination = ? AND path IN ?", destination, paths).
		Delete(&models.LocalState{}).Error
}

// Run operations

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.SyncRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.SyncRun) error {
	return s.db.WithContext(ctx).Save(run).Error
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.SyncRun, error) {
	var run models.SyncRun
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, destination string, limit int) ([]models.SyncRun, error) {
	var runs []models.SyncRun
	query := s.db.WithContext(ctx).Order("started_at DESC")

	if destination != "" {
		query = query.Where("destination = ?", destination)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&runs).Error
	return runs, err
}

// LastSuccessfulRun returns the most recent finished, non-dry run without
// failures, or nil when there is none.
func (s *SQLiteStore) LastSuccessfulRun(ctx context.Context, destination, command string) (*models.SyncRun, error) {
	var runs []models.SyncRun
	err := s.db.WithContext(ctx).
		Where("destination = ? AND command = ? AND dry_run = ? AND failed = 0", destination, command, false).
		Order("started_at DESC").
		Find(&runs).Error
	if err != nil {
		return nil, err
	}

	for i := range runs {
		if runs[i].Succeeded() {
			return &runs[i], nil
		}
	}
	return nil, nil
}
