// Package store persists encoded field snapshots so an investigation can be
// inspected or resumed later.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/config"
	"github.com/xkilldash9x/darkswarm/internal/field"
)

var (
	// ErrNotFound is returned when no snapshot exists under an ID.
	ErrNotFound = errors.New("snapshot not found")
	// ErrDisabled is returned by Open when no backend is configured.
	ErrDisabled = errors.New("snapshot store disabled")
)

var (
	_ schemas.SnapshotStore = (*Postgres)(nil)
	_ schemas.SnapshotStore = (*Badger)(nil)
	_ Lister                = (*Postgres)(nil)
	_ Lister                = (*Badger)(nil)
)

// SnapshotInfo describes a stored snapshot without its contents.
type SnapshotInfo struct {
	ID      string
	Size    int
	SavedAt time.Time
}

// Lister is implemented by stores that can enumerate their snapshots.
type Lister interface {
	ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error)
}

func sortNewestFirst(infos []SnapshotInfo) {
	slices.SortStableFunc(infos, func(a, b SnapshotInfo) int {
		if c := b.SavedAt.Compare(a.SavedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func validID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("snapshot id is empty")
	}
	return nil
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (schemas.SnapshotStore, error) {
	switch cfg.Type {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case config.StoreBadger:
		path, err := homedir.Expand(cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand badger path: %w", err)
		}
		return OpenBadger(BadgerOptions{Path: path, SyncWrites: true}, logger)
	case config.StoreNone, "":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// Save encodes a snapshot and writes it under id.
func Save(ctx context.Context, st schemas.SnapshotStore, id string, snap field.Snapshot) error {
	blob, err := field.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	return st.SaveSnapshot(ctx, id, blob)
}

// Load reads and decodes the snapshot stored under id.
func Load(ctx context.Context, st schemas.SnapshotStore, id string) (field.Snapshot, error) {
	blob, err := st.LoadSnapshot(ctx, id)
	if err != nil {
		return field.Snapshot{}, err
	}
	return field.UnmarshalSnapshot(blob)
}
