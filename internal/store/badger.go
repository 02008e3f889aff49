package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	snapshotPrefix = "snapshot/"
	savedAtPrefix  = "saved_at/"
)

// BadgerOptions configures the embedded store. Path is ignored in memory.
type BadgerOptions struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.s.Debugf(format, args...) }

// Badger stores snapshots in an embedded key-value database.
type Badger struct {
	db  *badger.DB
	log *zap.Logger
	now func() time.Time
}

// OpenBadger opens or creates the database.
func OpenBadger(opts BadgerOptions, logger *zap.Logger) (*Badger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")

	var bo badger.Options
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("path is required for a persistent badger store")
		}
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", opts.Path, err)
		}
		bo = badger.DefaultOptions(opts.Path)
	}
	bo = bo.WithSyncWrites(opts.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{s: logger.Sugar()})

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db, log: logger, now: time.Now}, nil
}

// SaveSnapshot writes blob under id, replacing any previous snapshot.
func (b *Badger) SaveSnapshot(ctx context.Context, id string, blob []byte) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stamp, err := b.now().UTC().MarshalBinary()
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(snapshotPrefix+id), blob); err != nil {
			return err
		}
		return txn.Set([]byte(savedAtPrefix+id), stamp)
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", id, err)
	}
	b.log.Debug("Snapshot saved.", zap.String("snapshot_id", id), zap.Int("bytes", len(blob)))
	return nil
}

// LoadSnapshot reads the blob stored under id.
func (b *Badger) LoadSnapshot(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var blob []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotPrefix + id))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	return blob, nil
}

// ListSnapshots returns the most recently saved snapshots first.
func (b *Badger) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []SnapshotInfo
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(snapshotPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			info := SnapshotInfo{
				ID:   strings.TrimPrefix(string(item.Key()), snapshotPrefix),
				Size: int(item.ValueSize()),
			}
			if meta, err := txn.Get([]byte(savedAtPrefix + info.ID)); err == nil {
				_ = meta.Value(func(v []byte) error { return info.SavedAt.UnmarshalBinary(v) })
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *Badger) Close() error { return b.db.Close() }
