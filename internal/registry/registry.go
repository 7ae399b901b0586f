// Package registry tracks which backend agent session, if any, is active
// for each external conversation (chat thread or tracker issue).
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/trestle-dev/trestle/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Default mapping lifetimes. Chat threads go cold within a day; tracker
// issues stay actionable for about a week.
const (
	DefaultThreadTTL = 24 * time.Hour
	DefaultIssueTTL  = 7 * 24 * time.Hour
)

// Registry is a TTL-bounded mapping from conversation keys to active
// backend sessions. At most one mapping exists per key.
type Registry struct {
	db        *gorm.DB
	threadTTL time.Duration
	issueTTL  time.Duration
	now       func() time.Time
}

// Opts holds parameters for creating a Registry.
type Opts struct {
	DB        *gorm.DB
	ThreadTTL time.Duration    // defaults to DefaultThreadTTL
	IssueTTL  time.Duration    // defaults to DefaultIssueTTL
	Now       func() time.Time // injected clock, defaults to time.Now
}

// New creates a Registry.
func New(opts Opts) (*Registry, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("registry: db is required")
	}
	threadTTL := opts.ThreadTTL
	if threadTTL <= 0 {
		threadTTL = DefaultThreadTTL
	}
	issueTTL := opts.IssueTTL
	if issueTTL <= 0 {
		issueTTL = DefaultIssueTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{db: opts.DB, threadTTL: threadTTL, issueTTL: issueTTL, now: now}, nil
}

// ttlFor returns the mapping lifetime for a conversation kind.
func (r *Registry) ttlFor(kind string) time.Duration {
	if kind == models.ConversationIssue {
		return r.issueTTL
	}
	return r.threadTTL
}

// Lookup returns the active mapping for the conversation key, or nil when
// none exists. An expired mapping is deleted on read and reported as
// absent, so the caller starts a fresh session.
func (r *Registry) Lookup(key string) (*models.SessionMapping, error) {
	var mapping models.SessionMapping
	err := r.db.Where("conversation_key = ?", key).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: lookup %s: %w", key, err)
	}
	if !mapping.ExpiresAt.After(r.now()) {
		if err := r.Delete(key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &mapping, nil
}

// Save persists a mapping, overwriting any prior mapping for the same
// conversation key. ExpiresAt is derived from the conversation kind when
// unset.
func (r *Registry) Save(mapping *models.SessionMapping) error {
	if mapping.ConversationKey == "" {
		return fmt.Errorf("registry: save: conversation key is required")
	}
	if mapping.SessionID == "" {
		return fmt.Errorf("registry: save: session id is required")
	}
	now := r.now()
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = now
	}
	if mapping.ExpiresAt.IsZero() {
		mapping.ExpiresAt = now.Add(r.ttlFor(mapping.ConversationKind))
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_key"}},
		UpdateAll: true,
	}).Create(mapping).Error
	if err != nil {
		return fmt.Errorf("registry: save %s: %w", mapping.ConversationKey, err)
	}
	return nil
}

// Delete removes the mapping for the conversation key. Deleting an absent
// key is a no-op.
func (r *Registry) Delete(key string) error {
	if err := r.db.Where("conversation_key = ?", key).Delete(&models.SessionMapping{}).Error; err != nil {
		return fmt.Errorf("registry: delete %s: %w", key, err)
	}
	return nil
}

// RecordResponse stores the latest backend message id and a short response
// excerpt on the mapping, used to enrich follow-up prompts for continuity.
func (r *Registry) RecordResponse(key, messageID, excerpt string) error {
	const maxExcerpt = 500
	if len(excerpt) > maxExcerpt {
		excerpt = excerpt[:maxExcerpt]
	}
	err := r.db.Model(&models.SessionMapping{}).
		Where("conversation_key = ?", key).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"last_response":   excerpt,
		}).Error
	if err != nil {
		return fmt.Errorf("registry: record response %s: %w", key, err)
	}
	return nil
}

// BySession returns the mapping that owns the given backend session id, or
// nil when none exists. Completion callbacks identify conversations this way.
func (r *Registry) BySession(sessionID string) (*models.SessionMapping, error) {
	var mapping models.SessionMapping
	err := r.db.Where("session_id = ?", sessionID).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: by session %s: %w", sessionID, err)
	}
	return &mapping, nil
}

// Sweep deletes expired mappings and returns the number removed.
func (r *Registry) Sweep() (int64, error) {
	result := r.db.Where("expires_at <= ?", r.now()).Delete(&models.SessionMapping{})
	if result.Error != nil {
		return 0, fmt.Errorf("registry: sweep: %w", result.Error)
	}
	return result.RowsAffected, nil
}
