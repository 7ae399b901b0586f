// Package dedupe implements the time-bounded idempotency ledger that
// detects platform-side webhook retries.
package dedupe

import (
	"errors"
	"fmt"
	"time"

	"github.com/trestle-dev/trestle/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTTL is how long an event key is remembered. Platforms retry
// within minutes, so one hour is conservative.
const DefaultTTL = 1 * time.Hour

// Store is a write-once, TTL-bounded ledger of seen event keys. Keys are
// namespaced per event kind so unrelated event classes cannot collide.
type Store struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB  *gorm.DB
	TTL time.Duration    // defaults to DefaultTTL
	Now func() time.Time // injected clock, defaults to time.Now
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dedupe: db is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: opts.DB, ttl: ttl, now: now}, nil
}

// CheckAndMark records the event key and reports whether it was already
// seen within the TTL window. The first call for a key returns false and
// writes the key; subsequent calls within the window return true.
//
// The insert uses ON CONFLICT DO NOTHING so a second write attempt for the
// same key is a no-op, not an error. The check-then-insert sequence is not
// strictly atomic under concurrent duplicates; the rare double-processing
// that allows is cheaper than locking on the request path.
func (s *Store) CheckAndMark(kind, key string) (bool, error) {
	full := kind + ":" + key
	now := s.now()

	rec := models.IdempotencyRecord{
		EventKey:  full,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if result.Error != nil {
		return false, fmt.Errorf("dedupe: mark %s: %w", full, result.Error)
	}
	if result.RowsAffected == 1 {
		// First sighting.
		return false, nil
	}

	// Key already present: seen, unless the existing record has expired,
	// in which case the window is re-armed and the event proceeds.
	var existing models.IdempotencyRecord
	err := s.db.Where("event_key = ?", full).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Swept between insert and read. Treat as first sighting.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedupe: check %s: %w", full, err)
	}
	if existing.ExpiresAt.After(now) {
		return true, nil
	}

	err = s.db.Model(&models.IdempotencyRecord{}).
		Where("event_key = ?", full).
		Updates(map[string]interface{}{
			"created_at": now,
			"expires_at": now.Add(s.ttl),
		}).Error
	if err != nil {
		return false, fmt.Errorf("dedupe: re-arm %s: %w", full, err)
	}
	return false, nil
}

// Sweep deletes expired records and returns the number removed.
func (s *Store) Sweep() (int64, error) {
	result := s.db.Where("expires_at <= ?", s.now()).Delete(&models.IdempotencyRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("dedupe: sweep: %w", result.Error)
	}
	return result.RowsAffected, nil
}
