package dedupe

import (
	"testing"
	"time"

	"github.com/trestle-dev/trestle/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDedupeTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.IdempotencyRecord{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, now *time.Time) *Store {
	t.Helper()
	store, err := NewStore(StoreOpts{
		DB:  openDedupeTestDB(t),
		TTL: time.Hour,
		Now: func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestCheckAndMark_FirstSightingThenSeen(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, &now)

	seen, err := store.CheckAndMark("slack", "ev-1")
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if seen {
		t.Error("first sighting reported as seen")
	}

	seen, err = store.CheckAndMark("slack", "ev-1")
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if !seen {
		t.Error("second sighting not reported as seen")
	}
}

func TestCheckAndMark_NamespacedKinds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, &now)

	if seen, _ := store.CheckAndMark("slack", "ev-1"); seen {
		t.Error("slack:ev-1 reported as seen")
	}
	// Same key under a different kind must not collide.
	if seen, _ := store.CheckAndMark("github", "ev-1"); seen {
		t.Error("github:ev-1 collided with slack:ev-1")
	}
}

func TestCheckAndMark_ExpiryReArms(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, &now)

	if seen, _ := store.CheckAndMark("slack", "ev-1"); seen {
		t.Fatal("first sighting reported as seen")
	}

	// Advance past the TTL: the same key is a fresh sighting again.
	now = now.Add(2 * time.Hour)
	seen, err := store.CheckAndMark("slack", "ev-1")
	if err != nil {
		t.Fatalf("CheckAndMark after expiry: %v", err)
	}
	if seen {
		t.Error("expired key reported as seen")
	}

	// And immediately seen once more within the new window.
	if seen, _ := store.CheckAndMark("slack", "ev-1"); !seen {
		t.Error("re-armed key not reported as seen")
	}
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, &now)

	store.CheckAndMark("slack", "old")
	now = now.Add(90 * time.Minute)
	store.CheckAndMark("slack", "fresh")

	removed, err := store.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep removed %d records, want 1", removed)
	}

	// The fresh key must still dedupe.
	if seen, _ := store.CheckAndMark("slack", "fresh"); !seen {
		t.Error("fresh key lost by sweep")
	}
}

func TestNewStore_RequiresDB(t *testing.T) {
	if _, err := NewStore(StoreOpts{}); err == nil {
		t.Error("NewStore accepted nil DB")
	}
}
