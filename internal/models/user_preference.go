package models

import "time"

// UserPreference stores a user's chosen model and reasoning effort. It has
// no TTL; a preference persists until explicitly overwritten.
type UserPreference struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	UserID          string `gorm:"size:128;not null;uniqueIndex"`
	Model           string `gorm:"size:64"`
	ReasoningEffort string `gorm:"size:16"`
	UpdatedAt       time.Time
}
