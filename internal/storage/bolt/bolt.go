package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/playtime/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketSnapshots    = "snapshots"
	bucketSessions     = "play_sessions"
	bucketIndexes      = "indexes"
	bucketIndexActive  = "active"
	keyLatestSnapshot  = "latest"
	defaultOpenTimeout = 2 * time.Second
	defaultFileMode    = 0600
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed mirror.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, defaultFileMode, &bbolt.Options{Timeout: defaultOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketSnapshots, bucketSessions, bucketIndexes} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		indexes := tx.Bucket([]byte(bucketIndexes))
		if _, err := indexes.CreateBucketIfNotExists([]byte(bucketIndexActive)); err != nil {
			return fmt.Errorf("create active index: %w", err)
		}

		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshots returns the snapshot store.
func (s *Store) Snapshots() storage.SnapshotStore { return &snapshotStore{store: s} }

// Sessions returns the play session store.
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{store: s} }

// mirrorTx is a bolt transaction with the mirror's buckets resolved.
type mirrorTx struct {
	snapshots *bbolt.Bucket
	sessions  *bbolt.Bucket
	active    *bbolt.Bucket // session id -> app id, open sessions only
}

func resolve(tx *bbolt.Tx) (*mirrorTx, error) {
	m := &mirrorTx{
		snapshots: tx.Bucket([]byte(bucketSnapshots)),
		sessions:  tx.Bucket([]byte(bucketSessions)),
	}
	if m.snapshots == nil || m.sessions == nil {
		return nil, fmt.Errorf("mirror buckets missing")
	}

	indexes := tx.Bucket([]byte(bucketIndexes))
	if indexes == nil {
		return nil, fmt.Errorf("indexes bucket missing")
	}
	if m.active = indexes.Bucket([]byte(bucketIndexActive)); m.active == nil {
		return nil, fmt.Errorf("active index bucket missing")
	}

	return m, nil
}

func (s *Store) view(ctx context.Context, fn func(*mirrorTx) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return run(ctx, tx, fn)
	})
}

func (s *Store) update(ctx context.Context, fn func(*mirrorTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return run(ctx, tx, fn)
	})
}

func run(ctx context.Context, tx *bbolt.Tx, fn func(*mirrorTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := resolve(tx)
	if err != nil {
		return err
	}
	return fn(m)
}

// putSession stores the session record and adds it to, or drops it from,
// the active index.
func (m *mirrorTx) putSession(session storage.PlaySession) error {
	if err := writeJSON(m.sessions, []byte(session.ID), session); err != nil {
		return err
	}
	if session.Active {
		return m.active.Put([]byte(session.ID), []byte(session.AppID))
	}
	return m.active.Delete([]byte(session.ID))
}

func (m *mirrorTx) deleteSession(id []byte) error {
	if err := m.active.Delete(id); err != nil {
		return err
	}
	return m.sessions.Delete(id)
}

func readJSON[T any](b *bbolt.Bucket, key []byte) (*T, error) {
	data := b.Get(key)
	if data == nil {
		return nil, storage.ErrNotFound
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &out, nil
}

func writeJSON(b *bbolt.Bucket, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put(key, data)
}
