package cache

// Key prefixes. Each prefix ends with '|' as a separator.
//
// Entries and stamps are written together: the stamp value holds the
// fetch time as 8-byte big-endian nanoseconds, which Purge scans to
// expire entries without decoding payloads.
const (
	PrefixEntry = "e|" // e|{name} => payload bytes
	PrefixStamp = "t|" // t|{name} => fetched_ns:8BE
)

// EntryKey returns the storage key for a cached payload: e|{name}
func EntryKey(name string) []byte {
	return append([]byte(PrefixEntry), name...)
}

// StampKey returns the storage key for an entry's fetch stamp: t|{name}
func StampKey(name string) []byte {
	return append([]byte(PrefixStamp), name...)
}

// NameFromStampKey recovers the entry name from a stamp key.
func NameFromStampKey(k []byte) string {
	return string(k[len(PrefixStamp):])
}

// prefixUpperBound returns the exclusive upper bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
