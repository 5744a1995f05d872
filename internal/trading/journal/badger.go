package journal

import (
	"encoding/json"
	"fmt"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BadgerStore keeps the output records of simulation runs, ordered by run and sequence.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
}

// OpenBadger opens or creates a store in dir.
func OpenBadger(dir string, logger *zap.Logger) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions(dir), logger)
}

// OpenBadgerInMemory creates a store that lives until Close.
func OpenBadgerInMemory(logger *zap.Logger) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true), logger)
}

func openBadger(opts badger.Options, logger *zap.Logger) (*BadgerStore, error) {
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &BadgerStore{db: db, logger: logger.Named("journal")}, nil
}

// key format: runID:seq
func formatKey(runID uuid.UUID, seq int64) []byte {
	return []byte(fmt.Sprintf("%s:%020d", runID, seq))
}

func runPrefix(runID uuid.UUID) []byte {
	return []byte(runID.String() + ":")
}

// Append stores msgs as records first, first+1, ... of run in one transaction
// and returns the next free sequence number. Existing records are never overwritten.
func (s *BadgerStore) Append(runID uuid.UUID, first int64, msgs ...model.Message) (int64, error) {
	seq := first
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, msg := range msgs {
			rec, err := NewRecord(runID, seq, msg)
			if err != nil {
				return err
			}
			val, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			key := formatKey(runID, seq)
			_, err = txn.Get(key)
			if err == nil {
				return fmt.Errorf("record duplicate: run %s seq %d", runID, seq)
			}
			if err != badger.ErrKeyNotFound {
				return err
			}
			if err := txn.Set(key, val); err != nil {
				return err
			}
			seq++
		}
		return nil
	})
	if err != nil {
		return first, err
	}
	return seq, nil
}

// Replay hands the records of run to fn in sequence order.
func (s *BadgerStore) Replay(runID uuid.UUID, fn func(Record) error) error {
	prefix := runPrefix(runID)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rec) })
			if err != nil {
				return fmt.Errorf("decoding record %s: %w", it.Item().Key(), err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count is the number of records stored for run.
func (s *BadgerStore) Count(runID uuid.UUID) (int, error) {
	prefix := runPrefix(runID)
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Runs lists the stored run ids in key order.
func (s *BadgerStore) Runs() ([]uuid.UUID, error) {
	var runs []uuid.UUID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if len(key) < 36 {
				continue
			}
			id, err := uuid.ParseBytes(key[:36])
			if err != nil {
				s.logger.Warn("skipping foreign key", zap.ByteString("key", key))
				continue
			}
			if len(runs) == 0 || runs[len(runs)-1] != id {
				runs = append(runs, id)
			}
		}
		return nil
	})
	return runs, err
}

// Close closes the underlying BadgerDB.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
