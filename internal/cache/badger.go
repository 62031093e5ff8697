package cache

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type badgerStore struct {
	db *badger.DB
}

func openBadger(dir string) (*badgerStore, error) {
	opts := badger.DefaultOptions(filepath.Join(dir, "badger"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Get(name string) ([]byte, time.Time, bool, error) {
	var value []byte
	var fetched time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(EntryKey(name))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		stamp, err := txn.Get(StampKey(name))
		if err != nil {
			return err
		}
		return stamp.Value(func(v []byte) error {
			fetched = time.Unix(0, int64(GetUint64BE(v)))
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("cache get %s: %w", name, err)
	}
	return value, fetched, true, nil
}

func (s *badgerStore) Put(name string, value []byte, fetchedAt time.Time) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(EntryKey(name), value); err != nil {
			return err
		}
		return txn.Set(StampKey(name), PutUint64BE(nil, uint64(fetchedAt.UnixNano())))
	})
	if err != nil {
		return fmt.Errorf("cache put %s: %w", name, err)
	}
	return nil
}

func (s *badgerStore) Delete(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(EntryKey(name)); err != nil {
			return err
		}
		return txn.Delete(StampKey(name))
	})
	if err != nil {
		return fmt.Errorf("cache delete %s: %w", name, err)
	}
	return nil
}

func (s *badgerStore) Purge(cutoff time.Time) (int, error) {
	var expired []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(PrefixStamp)
		for it.Seek(prefix); it.Valid(); it.Next() {
			item := it.Item()
			if !bytes.HasPrefix(item.Key(), prefix) {
				break
			}
			var fetched time.Time
			err := item.Value(func(v []byte) error {
				fetched = time.Unix(0, int64(GetUint64BE(v)))
				return nil
			})
			if err != nil {
				return err
			}
			if fetched.Before(cutoff) {
				expired = append(expired, NameFromStampKey(item.KeyCopy(nil)))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache purge scan: %w", err)
	}
	for _, name := range expired {
		if err := s.Delete(name); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

func (s *badgerStore) Len() (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(PrefixStamp)
		for it.Seek(prefix); it.Valid(); it.Next() {
			if !bytes.HasPrefix(it.Item().Key(), prefix) {
				break
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache len: %w", err)
	}
	return n, nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
