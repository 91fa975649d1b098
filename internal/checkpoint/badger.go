package checkpoint

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
)

var keyPrefix = []byte("ckpt/")

// BadgerStore keeps checkpoints in a badger key-value store, one key per
// source with an 8-byte big-endian offset value.
type BadgerStore struct {
	db     *badger.DB
	logger zerolog.Logger

	// mu serializes the read-check-write in Commit. The engine has one
	// committer per source, but the monotonic check must also hold across a
	// misconfigured pair of pipelines sharing a source id.
	mu sync.Mutex
}

// NewBadgerStore opens (or creates) a store at dir. An empty dir opens an
// in-memory database.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	l := logger.GetLogger("checkpoint")
	l.Debug().Str("dir", dir).Msg("opened badger checkpoint store")
	return &BadgerStore{db: db, logger: l}, nil
}

func (s *BadgerStore) key(sourceID string) []byte {
	return append(append([]byte(nil), keyPrefix...), sourceID...)
}

func (s *BadgerStore) Load(sourceID string) (uint64, bool, error) {
	var (
		offset uint64
		found  bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(sourceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			offset = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if err != nil {
		return 0, false, &CheckpointError{SourceID: sourceID, Err: err}
	}
	return offset, found, nil
}

func (s *BadgerStore) Commit(sourceID string, offset uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, found, err := s.Load(sourceID)
	if err != nil {
		return err
	}
	if found && offset <= prev {
		return &CheckpointError{SourceID: sourceID, Err: ErrNonMonotonic}
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, offset)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(sourceID), buf)
	})
	if err != nil {
		s.logger.Err(err).Str("source", sourceID).Uint64("offset", offset).Msg("commit failed")
		return &CheckpointError{SourceID: sourceID, Err: err}
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
