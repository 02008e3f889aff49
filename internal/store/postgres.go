package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS field_snapshots (
            id TEXT PRIMARY KEY,
            payload BYTEA NOT NULL,
            saved_at TIMESTAMPTZ NOT NULL
        );
    `
	sqlCreateIndex = `
        CREATE INDEX IF NOT EXISTS field_snapshots_saved_at_idx ON field_snapshots (saved_at DESC);
    `
	sqlUpsertSnapshot = `
        INSERT INTO field_snapshots (id, payload, saved_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET
            payload = EXCLUDED.payload,
            saved_at = EXCLUDED.saved_at;
    `
	sqlSelectSnapshot = `
        SELECT payload FROM field_snapshots WHERE id = $1;
    `
	sqlListSnapshots = `
        SELECT id, octet_length(payload), saved_at
        FROM field_snapshots
        ORDER BY saved_at DESC
        LIMIT $1;
    `
)

// Postgres stores snapshots in a single table keyed by snapshot ID.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// NewPostgres creates a store and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the snapshot table if needed.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, stmt := range []string{sqlCreateTable, sqlCreateIndex} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create snapshot schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveSnapshot writes blob under id, replacing any previous snapshot.
func (s *Postgres) SaveSnapshot(ctx context.Context, id string, blob []byte) error {
	if err := validID(id); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertSnapshot, id, blob, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", id, err)
	}
	s.log.Debug("Snapshot saved.", zap.String("snapshot_id", id), zap.Int("bytes", len(blob)))
	return nil
}

// LoadSnapshot reads the blob stored under id.
func (s *Postgres) LoadSnapshot(ctx context.Context, id string) ([]byte, error) {
	var blob []byte
	if err := s.pool.QueryRow(ctx, sqlSelectSnapshot, id).Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	return blob, nil
}

// ListSnapshots returns the most recently saved snapshots first.
func (s *Postgres) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	rows, err := s.pool.Query(ctx, sqlListSnapshots, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.ID, &info.Size, &info.SavedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
