package bridge

import (
	"errors"
	"fmt"

	"github.com/trestle-dev/trestle/internal/models"
	"github.com/trestle-dev/trestle/internal/resolve"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Preferences stores per-user model choices. Preferences have no TTL; a
// value persists until explicitly overwritten.
type Preferences struct {
	db *gorm.DB
}

// NewPreferences creates a Preferences store.
func NewPreferences(db *gorm.DB) (*Preferences, error) {
	if db == nil {
		return nil, fmt.Errorf("bridge: preferences: db is required")
	}
	return &Preferences{db: db}, nil
}

// Get returns the user's stored preference as a resolution override. An
// absent preference is a zero Override, not an error.
func (p *Preferences) Get(userID string) (resolve.Override, error) {
	var pref models.UserPreference
	err := p.db.Where("user_id = ?", userID).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return resolve.Override{}, nil
	}
	if err != nil {
		return resolve.Override{}, fmt.Errorf("bridge: preferences: get %s: %w", userID, err)
	}
	return resolve.Override{Model: pref.Model, Effort: pref.ReasoningEffort}, nil
}

// Set upserts the user's preference.
func (p *Preferences) Set(userID, model, effort string) error {
	if userID == "" {
		return fmt.Errorf("bridge: preferences: user id is required")
	}
	pref := models.UserPreference{
		UserID:          userID,
		Model:           model,
		ReasoningEffort: effort,
	}
	err := p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&pref).Error
	if err != nil {
		return fmt.Errorf("bridge: preferences: set %s: %w", userID, err)
	}
	return nil
}
