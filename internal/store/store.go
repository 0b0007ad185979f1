// Package store persists job history.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/maplink/internal/model"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for job records.
type Store interface {
	CreateJob(ctx context.Context, job *model.Job) error
	// UpdateJob overwrites the mutable fields of an existing job.
	UpdateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	Path        string     `yaml:"path" mapstructure:"path"`     // sqlite file
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open connects to the configured backend and runs migrations.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "maplink.db"
		}
		s, err = NewSQLite(path)
	case "postgres", "pgx":
		if cfg.DatabaseURL == "" {
			return nil, eris.New("store: postgres requires database_url")
		}
		s, err = NewPostgres(ctx, cfg.DatabaseURL, &cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

const defaultListLimit = 100

func listLimit(f model.JobFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
