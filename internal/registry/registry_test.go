package registry

import (
	"testing"
	"time"

	"github.com/trestle-dev/trestle/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openRegistryTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.SessionMapping{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestRegistry(t *testing.T, now *time.Time) *Registry {
	t.Helper()
	reg, err := New(Opts{
		DB:  openRegistryTestDB(t),
		Now: func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg
}

func threadMapping(key, sessionID string) *models.SessionMapping {
	return &models.SessionMapping{
		ConversationKey:  key,
		ConversationKind: models.ConversationThread,
		Platform:         "slack",
		SessionID:        sessionID,
		RepoOwner:        "acme",
		RepoName:         "api",
	}
}

func TestSaveAndLookup(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, &now)

	if err := reg.Save(threadMapping("C01:1700.1", "sess-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := reg.Lookup("C01:1700.1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil {
		t.Fatal("Lookup returned nil for saved mapping")
	}
	if got.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want %q", got.SessionID, "sess-1")
	}
	if want := now.Add(DefaultThreadTTL); !got.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want)
	}
}

func TestLookup_Absent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, &now)

	got, err := reg.Lookup("C01:absent")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != nil {
		t.Errorf("Lookup = %+v, want nil", got)
	}
}

func TestLookup_ExpiredIsDeleted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, &now)

	if err := reg.Save(threadMapping("C01:1700.1", "sess-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	now = now.Add(DefaultThreadTTL + time.Minute)
	got, err := reg.Lookup("C01:1700.1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != nil {
		t.Errorf("expired mapping returned: %+v", got)
	}

	// A fresh save on the same key must now succeed cleanly.
	if err := reg.Save(threadMapping("C01:1700.1", "sess-2")); err != nil {
		t.Fatalf("Save after expiry: %v", err)
	}
}

func TestSave_OverwritesSameKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, &now)

	if err := reg.Save(threadMapping("C01:1700.1", "sess-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := reg.Save(threadMapping("C01:1700.1", "sess-2")); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}

	got, err := reg.Lookup("C01:1700.1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.SessionID != "sess-2" {
		t.Errorf("SessionID = %q, want sess-2 (overwrite)", got.SessionID)
	}

	// The single-active-mapping invariant: exactly one row per key.
	var count int64
	reg.db.Model(&models.SessionMapping{}).Where("conversation_key = ?", "C01:1700.1").Count(&count)
	if count != 1 {
		t.Errorf("mapping rows = %d, want 1", count)
	}
}

func TestIssueTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, &now)

	m := threadMapping("acme/api#42", "sess-3")
	m.ConversationKind = models.ConversationIssue
	if err := reg.Save(m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, _ := reg.Lookup("acme/api#42")
	if want := now.Add(DefaultIssueTTL); !got.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want)
	}
}

func TestDelete_AbsentIsNoOp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, &now)

	if err := reg.Delete("C01:never-existed"); err != nil {
		t.Errorf("Delete absent key: %v", err)
	}
}

func TestRecordResponse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, &now)

	if err := reg.Save(threadMapping("C01:1700.1", "sess-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := reg.RecordResponse("C01:1700.1", "msg-7", "fixed the bug"); err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}

	got, _ := reg.Lookup("C01:1700.1")
	if got.LastMessageID != "msg-7" {
		t.Errorf("LastMessageID = %q, want msg-7", got.LastMessageID)
	}
	if got.LastResponse != "fixed the bug" {
		t.Errorf("LastResponse = %q", got.LastResponse)
	}
}

func TestBySession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, &now)

	if err := reg.Save(threadMapping("C01:1700.1", "sess-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := reg.BySession("sess-1")
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	if got == nil || got.ConversationKey != "C01:1700.1" {
		t.Errorf("BySession = %+v, want mapping for C01:1700.1", got)
	}

	absent, err := reg.BySession("sess-unknown")
	if err != nil {
		t.Fatalf("BySession unknown: %v", err)
	}
	if absent != nil {
		t.Errorf("BySession unknown = %+v, want nil", absent)
	}
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, &now)

	reg.Save(threadMapping("C01:old", "sess-1"))
	now = now.Add(DefaultThreadTTL + time.Hour)
	reg.Save(threadMapping("C01:fresh", "sess-2"))

	removed, err := reg.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if got, _ := reg.Lookup("C01:fresh"); got == nil {
		t.Error("fresh mapping lost by sweep")
	}
}
