// Package bridge orchestrates backend agent sessions from normalized
// platform events. Platform specifics live behind the Adapter interface;
// the state machine here is shared by every platform.
package bridge

import (
	"context"
	"net/http"

	"github.com/trestle-dev/trestle/internal/resolve"
)

// EventKind classifies a normalized inbound event.
type EventKind string

const (
	// EventNewConversation starts work in a conversation with no active
	// session (the registry decides whether it is actually new).
	EventNewConversation EventKind = "new_conversation"
	// EventFollowUp continues an existing conversation.
	EventFollowUp EventKind = "follow_up"
	// EventStop cancels the conversation's session.
	EventStop EventKind = "stop"
	// EventSetPreference updates the user's model preference.
	EventSetPreference EventKind = "set_preference"
	// EventChallenge is a platform URL-verification handshake; the server
	// echoes the challenge synchronously and nothing else happens.
	EventChallenge EventKind = "challenge"
	// EventIgnore is anything the adapter parsed but Trestle does not act
	// on (bot self-messages, unhandled event types).
	EventIgnore EventKind = "ignore"
)

// Conversation identifies the external conversation an event belongs to.
type Conversation struct {
	Kind      string // models.ConversationThread or models.ConversationIssue
	Key       string // canonical conversation key, e.g. "C01:1700.1" or "acme/api#42"
	ChannelID string
	ThreadID  string
}

// MessageRef points at the inbound platform message, for acknowledgment
// reactions.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Event is a platform webhook normalized for the orchestrator. Adapters
// reject anything that does not match a known shape; an Event always has a
// meaningful Kind.
type Event struct {
	Platform     string
	Kind         EventKind
	EventID      string // platform delivery id, used as the idempotency key
	Conversation Conversation
	Message      MessageRef
	UserID       string
	UserName     string
	Text         string
	ProjectKey   string
	Labels       []string
	// Repo is the repository full name when the platform already knows
	// it (issue webhooks); it short-circuits the resolution cascade.
	Repo string
	// OnlyIfActive marks passive messages (unmentioned thread replies,
	// issue comments) that continue a session when one exists but must
	// never start one.
	OnlyIfActive bool
	// Override carries model/effort requested via labels or an inline
	// set-preference command.
	Override  resolve.Override
	Challenge string // EventChallenge only
}

// Adapter is the per-platform surface the orchestrator needs: inbound
// verification and parsing, outbound posting, and reaction primitives.
type Adapter interface {
	// Platform returns the platform tag, e.g. "slack".
	Platform() string

	// VerifyRequest authenticates an inbound webhook against the
	// platform's signature scheme. It must be computed over the exact raw
	// body bytes.
	VerifyRequest(r *http.Request, body []byte) bool

	// ParseRequest normalizes a verified webhook into an Event. A payload
	// that does not match a known shape returns an error (the server
	// answers 400).
	ParseRequest(r *http.Request, body []byte) (*Event, error)

	// PostMessage posts text into the conversation.
	PostMessage(ctx context.Context, conv Conversation, text string) error

	// AddReaction and RemoveReaction are best-effort acknowledgment
	// primitives; failures are logged and never block the main path.
	AddReaction(ctx context.Context, ref MessageRef, name string) error
	RemoveReaction(ctx context.Context, ref MessageRef, name string) error
}
