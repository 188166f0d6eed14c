// Package store keeps a durable history of finished tasks in SQLite or
// Postgres. The live task registry stays in memory (see taskstore); this
// package only records outcomes for later inspection.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clipscript/internal/model"
)

// ErrRunNotFound is returned when no run matches an identifier.
var ErrRunNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.TaskStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for run history.
type Store interface {
	// RecordRun inserts or replaces the run for r.TaskID and fills r.ID.
	RecordRun(ctx context.Context, r *model.Run) error
	// GetRun looks a run up by run ID or task ID.
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and migrates it.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(driver) {
	case "sqlite":
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
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

func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
