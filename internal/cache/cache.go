// Package cache is the persistent response cache shared by every
// perfscope command that talks to CI services. Pushlogs, task graphs and
// warehouse query results are immutable once fetched, so commands re-run
// against the same revisions resolve entirely from disk.
//
// Two storage backends are supported, selected by flag: badger (default)
// and pebble.
package cache

import (
	"fmt"
	"time"
)

// Store is a key-value cache of fetched payloads with fetch timestamps.
type Store interface {
	// Get returns the cached payload and its fetch time.
	// ok is false when the key is absent.
	Get(name string) (value []byte, fetchedAt time.Time, ok bool, err error)

	// Put stores a payload stamped with fetchedAt.
	Put(name string, value []byte, fetchedAt time.Time) error

	// Delete removes an entry and its stamp. Missing keys are not an error.
	Delete(name string) error

	// Purge removes every entry fetched before cutoff and reports how
	// many were dropped.
	Purge(cutoff time.Time) (int, error)

	// Len reports the number of cached entries.
	Len() (int, error)

	Close() error
}

// Open opens a cache at dir using the named backend: badger or pebble.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", "badger":
		return openBadger(dir)
	case "pebble":
		return openPebble(dir)
	default:
		return nil, fmt.Errorf("unknown cache backend %q (want badger or pebble)", backend)
	}
}
