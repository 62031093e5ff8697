package cache

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"
)

type pebbleStore struct {
	db *pebble.DB
}

func openPebble(dir string) (*pebbleStore, error) {
	db, err := pebble.Open(filepath.Join(dir, "pebble"), &pebble.Options{
		MemTableSize:          16 << 20, // 16MB
		L0CompactionThreshold: 8,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble cache: %w", err)
	}
	return &pebbleStore{db: db}, nil
}

func (s *pebbleStore) Get(name string) ([]byte, time.Time, bool, error) {
	v, closer, err := s.db.Get(EntryKey(name))
	if err == pebble.ErrNotFound {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("cache get %s: %w", name, err)
	}
	value := make([]byte, len(v))
	copy(value, v)
	_ = closer.Close()

	sv, closer, err := s.db.Get(StampKey(name))
	if err == pebble.ErrNotFound {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("cache stamp get %s: %w", name, err)
	}
	fetched := time.Unix(0, int64(GetUint64BE(sv)))
	_ = closer.Close()
	return value, fetched, true, nil
}

func (s *pebbleStore) Put(name string, value []byte, fetchedAt time.Time) error {
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()
	if err := batch.Set(EntryKey(name), value, pebble.NoSync); err != nil {
		return fmt.Errorf("cache put %s: %w", name, err)
	}
	if err := batch.Set(StampKey(name), PutUint64BE(nil, uint64(fetchedAt.UnixNano())), pebble.NoSync); err != nil {
		return fmt.Errorf("cache stamp put %s: %w", name, err)
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("cache put commit %s: %w", name, err)
	}
	return nil
}

func (s *pebbleStore) Delete(name string) error {
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()
	if err := batch.Delete(EntryKey(name), pebble.NoSync); err != nil {
		return fmt.Errorf("cache delete %s: %w", name, err)
	}
	if err := batch.Delete(StampKey(name), pebble.NoSync); err != nil {
		return fmt.Errorf("cache stamp delete %s: %w", name, err)
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("cache delete commit %s: %w", name, err)
	}
	return nil
}

func (s *pebbleStore) Purge(cutoff time.Time) (int, error) {
	lower := []byte(PrefixStamp)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return 0, fmt.Errorf("cache purge scan: %w", err)
	}
	var expired []string
	for iter.First(); iter.Valid(); iter.Next() {
		if time.Unix(0, int64(GetUint64BE(iter.Value()))).Before(cutoff) {
			k := make([]byte, len(iter.Key()))
			copy(k, iter.Key())
			expired = append(expired, NameFromStampKey(k))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("cache purge scan close: %w", err)
	}
	for _, name := range expired {
		if err := s.Delete(name); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

func (s *pebbleStore) Len() (int, error) {
	lower := []byte(PrefixStamp)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return 0, fmt.Errorf("cache len: %w", err)
	}
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("cache len close: %w", err)
	}
	return n, nil
}

func (s *pebbleStore) Close() error {
	return s.db.Close()
}
