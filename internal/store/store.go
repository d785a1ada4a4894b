package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"drafttable/internal/domain"
	"drafttable/internal/observability/metrics"
)

// legacyFile is the pre-erasure-coded flat store. It is migrated through the
// sharded writer once and deleted.
const legacyFile = "state.bin"

// Store persists the full session snapshot: encrypted with a machine-bound
// key, erasure-coded across data+parity shard files, written atomically.
type Store struct {
	dir          string
	dataShards   int
	parityShards int
	cipher       *snapshotCipher
}

type Option func(*options)

type options struct {
	secret []byte
}

// WithSecret overrides the machine-derived key material, used by tests.
func WithSecret(secret []byte) Option {
	return func(o *options) { o.secret = secret }
}

func New(dir string, dataShards, parityShards int, opts ...Option) (*Store, error) {
	if dataShards < 1 || parityShards < 1 {
		return nil, errors.New("store: shard counts must be positive")
	}
	o := options{secret: MachineSecret()}
	for _, opt := range opts {
		opt(&o)
	}
	cipher, err := newSnapshotCipher(o.secret)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{
		dir:          dir,
		dataShards:   dataShards,
		parityShards: parityShards,
		cipher:       cipher,
	}, nil
}

// Save serializes, encrypts and shards the snapshot. The shard set replaces
// the previous generation only after every shard has been written.
func (s *Store) Save(snap *domain.Snapshot) error {
	plaintext, err := json.Marshal(snap)
	if err != nil {
		metrics.SnapshotSavesTotal.WithLabelValues("error").Inc()
		return err
	}
	sealed, err := s.cipher.seal(plaintext)
	if err != nil {
		metrics.SnapshotSavesTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := writeShards(s.dir, s.dataShards, s.parityShards, sealed); err != nil {
		metrics.SnapshotSavesTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.SnapshotSavesTotal.WithLabelValues("success").Inc()
	return nil
}

// Load reads the shard set, reconstructing missing shards when possible,
// decrypts the snapshot and upgrades it to the current schema. An upgraded
// snapshot is re-persisted immediately. A missing store yields (nil, nil):
// the caller decides whether an empty initial state is acceptable.
func (s *Store) Load() (*domain.Snapshot, error) {
	if !shardSetExists(s.dir, s.dataShards, s.parityShards) {
		if snap, ok, err := s.migrateLegacy(); ok || err != nil {
			return snap, err
		}
		return nil, nil
	}

	sealed, err := readShards(s.dir, s.dataShards, s.parityShards)
	if err != nil {
		metrics.SnapshotLoadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	plaintext, err := s.cipher.open(sealed)
	if err != nil {
		metrics.SnapshotLoadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		metrics.SnapshotLoadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store: corrupt snapshot payload: %w", err)
	}
	if snap.Upgrade() {
		slog.Info("snapshot schema upgraded", "schema", snap.Schema)
		if err := s.Save(&snap); err != nil {
			return nil, err
		}
	}
	metrics.SnapshotLoadsTotal.WithLabelValues("success").Inc()
	return &snap, nil
}

// migrateLegacy detects the pre-erasure-coded flat file, decrypts it,
// re-emits it through the sharded writer and deletes the old file.
func (s *Store) migrateLegacy() (*domain.Snapshot, bool, error) {
	path := filepath.Join(s.dir, legacyFile)
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, false, nil
	}
	slog.Info("migrating legacy flat store", "path", path)
	plaintext, err := s.cipher.open(sealed)
	if err != nil {
		return nil, true, fmt.Errorf("store: legacy store unreadable: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		return nil, true, fmt.Errorf("store: legacy store corrupt: %w", err)
	}
	snap.Upgrade()
	if err := s.Save(&snap); err != nil {
		return nil, true, err
	}
	if err := os.Remove(path); err != nil {
		slog.Warn("legacy store file not removed", "path", path, "error", err)
	}
	metrics.SnapshotLoadsTotal.WithLabelValues("migrated").Inc()
	return &snap, true, nil
}
