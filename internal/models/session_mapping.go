package models

import "time"

// Conversation kinds. Chat threads expire quickly; tracker issues live
// long enough to span multi-day work.
const (
	ConversationThread = "thread"
	ConversationIssue  = "issue"
)

// SessionMapping links an external conversation (chat thread or tracker
// issue) to an active backend agent session. At most one mapping exists
// per conversation key; a new one is created only after the prior one is
// confirmed absent, expired, or explicitly stopped.
type SessionMapping struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	ConversationKey  string `gorm:"size:191;not null;uniqueIndex"`
	ConversationKind string `gorm:"size:16;not null"` // "thread" or "issue"
	Platform         string `gorm:"size:16;not null;index"`
	SessionID        string `gorm:"size:64;not null;index"`
	RepoOwner        string `gorm:"size:64;not null"`
	RepoName         string `gorm:"size:128;not null"`
	Model            string `gorm:"size:64"`
	ReasoningEffort  string `gorm:"size:16"`
	LastMessageID    string `gorm:"size:64"`
	LastResponse     string `gorm:"type:text"` // excerpt of the most recent agent reply
	CreatedAt        time.Time
	ExpiresAt        time.Time `gorm:"index"`
}
