package checkpoint

import (
	"encoding/binary"

	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("checkpoints")

// BoltStore keeps checkpoints in a single-bucket bbolt database. Smaller
// footprint than badger; suited to pipelines with modest commit rates.
type BoltStore struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// NewBoltStore opens (or creates) a store backed by the file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	l := logger.GetLogger("checkpoint")
	l.Debug().Str("path", path).Msg("opened bbolt checkpoint store")
	return &BoltStore{db: db, logger: l}, nil
}

func (s *BoltStore) Load(sourceID string) (uint64, bool, error) {
	var (
		offset uint64
		found  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(bucketName).Get([]byte(sourceID))
		if val == nil {
			return nil
		}
		found = true
		offset = binary.BigEndian.Uint64(val)
		return nil
	})
	if err != nil {
		return 0, false, &CheckpointError{SourceID: sourceID, Err: err}
	}
	return offset, found, nil
}

func (s *BoltStore) Commit(sourceID string, offset uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if val := b.Get([]byte(sourceID)); val != nil {
			if offset <= binary.BigEndian.Uint64(val) {
				return ErrNonMonotonic
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, offset)
		return b.Put([]byte(sourceID), buf)
	})
	if err != nil {
		s.logger.Err(err).Str("source", sourceID).Uint64("offset", offset).Msg("commit failed")
		return &CheckpointError{SourceID: sourceID, Err: err}
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
