package scheduler

import (
	"testing"
	"time"

	"github.com/perfscope/perfscope/internal/cache"
	"github.com/perfscope/perfscope/internal/store"
)

func TestRunOncePrunesOldRuns(t *testing.T) {
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	run := &store.Run{TestName: "amazon", Platform: "p", Branch: "autoland", BaseRevision: "a", NewRevision: "b"}
	if err := db.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	// Zero retention would be replaced by the default, so use a value
	// small enough that a just-written row is already expired.
	s := New(db, nil, Config{RunRetention: time.Nanosecond, SnapshotRetention: time.Nanosecond})
	time.Sleep(10 * time.Millisecond)
	s.RunOnce()

	runs, err := db.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("runs left after prune = %d", len(runs))
	}
}

func TestRunOncePurgesCache(t *testing.T) {
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	cacheStore, err := cache.Open("badger", t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cacheStore.Close()

	old := time.Now().Add(-48 * time.Hour)
	if err := cacheStore.Put("stale", []byte("x"), old); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cacheStore.Put("fresh", []byte("y"), time.Now()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s := New(db, cacheStore, Config{CacheRetention: 24 * time.Hour})
	s.RunOnce()

	if _, _, ok, _ := cacheStore.Get("stale"); ok {
		t.Error("stale entry survived purge")
	}
	if _, _, ok, _ := cacheStore.Get("fresh"); !ok {
		t.Error("fresh entry was purged")
	}
}

func TestConfigDefaults(t *testing.T) {
	s := New(nil, nil, Config{})
	if s.config.Interval != time.Minute {
		t.Errorf("interval = %v", s.config.Interval)
	}
	if s.config.RunRetention != 90*24*time.Hour {
		t.Errorf("run retention = %v", s.config.RunRetention)
	}
}
