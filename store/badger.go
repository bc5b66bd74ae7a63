package store

import (
	"bytes"
	"encoding/gob"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	logging "github.com/ipfs/go-log"
	"github.com/pkg/errors"
)

var log = logging.Logger("peermgr/store")

// BadgerStore backs the Store contract with a github.com/dgraph-io/badger
// key/value database. It is a direct, concrete use of a dependency the
// teacher repo only carried transitively (via go-libp2p-peerstore's
// datastore chain); here it is the actual persistence layer behind the
// opaque "keyed blob" the core treats as a black box.
type BadgerStore struct {
	db *badger.DB

	mu       sync.Mutex
	pending  []PersistedRecord
	timer    *time.Timer
	debounce time.Duration
}

// OpenBadgerStore opens (creating if necessary) a badger database rooted at
// dir, per spec.md §6's "storage directory path" constructor parameter.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.ValueDir = dir

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening badger store")
	}

	return &BadgerStore{
		db:       db,
		debounce: DebounceInterval,
	}, nil
}

// Save replaces the pending persisted-peer snapshot and (re)arms the 2s
// debounce; it never blocks on I/O, per spec.md §5.
func (s *BadgerStore) Save(records []PersistedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = records
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.flush)
}

func (s *BadgerStore) flush() {
	s.mu.Lock()
	records := s.pending
	s.timer = nil
	s.mu.Unlock()

	buf := new(bytes.Buffer)
	if err := gob.NewEncoder(buf).Encode(records); err != nil {
		log.Errorf("encoding persisted peers: %s", err)
		return
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(PersistedPeersKey), buf.Bytes())
	})
	if err != nil {
		log.Errorf("writing persisted peers: %s", err)
	}
}

// Load reads back the last durably-written snapshot, or (nil, nil) if none
// has ever been written.
func (s *BadgerStore) Load() ([]PersistedRecord, error) {
	var records []PersistedRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(PersistedPeersKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&records)
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "loading persisted peers")
	}

	return records, nil
}

// Close cancels any pending debounce and closes the underlying database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
