package cache

import (
	"bytes"
	"testing"
	"time"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{}
	for _, name := range []string{"badger", "pebble"} {
		s, err := Open(name, t.TempDir())
		if err != nil {
			t.Fatalf("Open(%s): %v", name, err)
		}
		t.Cleanup(func() { s.Close() })
		out[name] = s
	}
	return out
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		fetched := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		if err := s.Put("pushlog-autoland-1-5", []byte(`{"pushes":{}}`), fetched); err != nil {
			t.Fatalf("%s: Put: %v", name, err)
		}
		v, at, ok, err := s.Get("pushlog-autoland-1-5")
		if err != nil {
			t.Fatalf("%s: Get: %v", name, err)
		}
		if !ok {
			t.Fatalf("%s: entry missing", name)
		}
		if !bytes.Equal(v, []byte(`{"pushes":{}}`)) {
			t.Errorf("%s: value = %s", name, v)
		}
		if !at.Equal(fetched) {
			t.Errorf("%s: fetchedAt = %v, want %v", name, at, fetched)
		}
	}
}

func TestGetMissing(t *testing.T) {
	for name, s := range backends(t) {
		_, _, ok, err := s.Get("absent")
		if err != nil {
			t.Fatalf("%s: Get: %v", name, err)
		}
		if ok {
			t.Errorf("%s: missing key reported present", name)
		}
	}
}

func TestDelete(t *testing.T) {
	for name, s := range backends(t) {
		if err := s.Put("k", []byte("v"), time.Now()); err != nil {
			t.Fatalf("%s: Put: %v", name, err)
		}
		if err := s.Delete("k"); err != nil {
			t.Fatalf("%s: Delete: %v", name, err)
		}
		_, _, ok, _ := s.Get("k")
		if ok {
			t.Errorf("%s: entry survived delete", name)
		}
	}
}

func TestPurgeExpiresOldEntries(t *testing.T) {
	for name, s := range backends(t) {
		old := time.Now().Add(-48 * time.Hour)
		fresh := time.Now()
		s.Put("old1", []byte("a"), old)
		s.Put("old2", []byte("b"), old)
		s.Put("fresh", []byte("c"), fresh)

		n, err := s.Purge(time.Now().Add(-24 * time.Hour))
		if err != nil {
			t.Fatalf("%s: Purge: %v", name, err)
		}
		if n != 2 {
			t.Errorf("%s: purged %d entries, want 2", name, n)
		}
		if _, _, ok, _ := s.Get("fresh"); !ok {
			t.Errorf("%s: fresh entry was purged", name)
		}
		if l, _ := s.Len(); l != 1 {
			t.Errorf("%s: Len = %d, want 1", name, l)
		}
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("bolt", t.TempDir()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestPrefixUpperBound(t *testing.T) {
	got := prefixUpperBound([]byte("t|"))
	if !bytes.Equal(got, []byte("t}")) {
		t.Errorf("prefixUpperBound = %q", got)
	}
}
