// Package postgres mirrors the latest training status into a Postgres row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/training-status/internal/progress"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "training_status"

// StatusStoreConfig controls the Postgres connection pool used for status rows.
type StatusStoreConfig struct {
	DSN             string
	Table           string
	RunID           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// StatusStore keeps one row per run holding its most recent snapshot. It
// implements progress.Sink; older snapshots never overwrite newer ones.
type StatusStore struct {
	pool  execCloser
	table string
	runID string
}

var _ progress.Sink = (*StatusStore)(nil)

// NewStatusStore connects to Postgres using cfg.
func NewStatusStore(ctx context.Context, cfg StatusStoreConfig) (*StatusStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStatusStoreWithPool(pool, cfg.Table, cfg.RunID)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStatusStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStatusStoreWithPool(pool execCloser, table, runID string) (*StatusStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &StatusStore{pool: pool, table: table, runID: runID}, nil
}

// Publish upserts the run's row with snap.
func (s *StatusStore) Publish(ctx context.Context, snap progress.Snapshot) error {
	if s == nil || s.pool == nil {
		return errors.New("status store is not configured")
	}
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: %w", progress.ErrEncode, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	run_id,
	status,
	current_iteration,
	total_iterations,
	progress_percentage,
	document,
	last_updated
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (run_id) DO UPDATE SET
	status = EXCLUDED.status,
	current_iteration = EXCLUDED.current_iteration,
	total_iterations = EXCLUDED.total_iterations,
	progress_percentage = EXCLUDED.progress_percentage,
	document = EXCLUDED.document,
	last_updated = EXCLUDED.last_updated
WHERE %[1]s.last_updated < EXCLUDED.last_updated`, s.table)

	_, err = s.pool.Exec(ctx, query,
		s.runID,
		string(snap.Phase),
		int64(snap.CurrentIteration), //nolint:gosec // iteration counts fit in bigint
		int64(snap.TotalIterations),  //nolint:gosec // iteration counts fit in bigint
		snap.ProgressPercentage,
		doc,
		snap.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert status row: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *StatusStore) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
