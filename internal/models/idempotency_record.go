package models

import "time"

// IdempotencyRecord marks an inbound event as seen so that platform-side
// retries of the same delivery are ignored. Records are write-once and
// expire naturally; a periodic sweep deletes rows past ExpiresAt.
type IdempotencyRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	EventKey  string `gorm:"size:191;not null;uniqueIndex"` // "kind:key", namespaced per event class
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}
