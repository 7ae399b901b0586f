package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// MockAdapter implements Adapter for testing. It records posted messages
// and reactions, and replays a pre-configured parse result.
type MockAdapter struct {
	mu        sync.Mutex
	platform  string
	verifyOK  bool
	parsed    *Event
	parseErr  error
	posted    []PostedMessage
	postErr   error
	reactions []ReactionCall
}

// PostedMessage is one recorded PostMessage call.
type PostedMessage struct {
	Conversation Conversation
	Text         string
}

// ReactionCall is one recorded AddReaction/RemoveReaction call.
type ReactionCall struct {
	Ref     MessageRef
	Name    string
	Removed bool
}

// NewMockAdapter creates a MockAdapter that verifies every request.
func NewMockAdapter(platform string) *MockAdapter {
	return &MockAdapter{platform: platform, verifyOK: true}
}

func (m *MockAdapter) Platform() string { return m.platform }

// SetVerify controls the VerifyRequest result.
func (m *MockAdapter) SetVerify(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyOK = ok
}

// SetParsed sets the event (or error) ParseRequest returns.
func (m *MockAdapter) SetParsed(ev *Event, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parsed = ev
	m.parseErr = err
}

// SetPostError makes every PostMessage call fail.
func (m *MockAdapter) SetPostError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postErr = err
}

func (m *MockAdapter) VerifyRequest(r *http.Request, body []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyOK
}

func (m *MockAdapter) ParseRequest(r *http.Request, body []byte) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.parseErr != nil {
		return nil, m.parseErr
	}
	if m.parsed == nil {
		return nil, fmt.Errorf("mock adapter: no parse result configured")
	}
	ev := *m.parsed
	return &ev, nil
}

func (m *MockAdapter) PostMessage(ctx context.Context, conv Conversation, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return m.postErr
	}
	m.posted = append(m.posted, PostedMessage{Conversation: conv, Text: text})
	return nil
}

func (m *MockAdapter) AddReaction(ctx context.Context, ref MessageRef, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, ReactionCall{Ref: ref, Name: name})
	return nil
}

func (m *MockAdapter) RemoveReaction(ctx context.Context, ref MessageRef, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, ReactionCall{Ref: ref, Name: name, Removed: true})
	return nil
}

// --- Test helpers ---

// LastPosted returns the most recently posted message.
func (m *MockAdapter) LastPosted() (PostedMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.posted) == 0 {
		return PostedMessage{}, false
	}
	return m.posted[len(m.posted)-1], true
}

// PostedCount returns the number of posted messages.
func (m *MockAdapter) PostedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

// AllPosted returns a copy of every posted message.
func (m *MockAdapter) AllPosted() []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PostedMessage, len(m.posted))
	copy(out, m.posted)
	return out
}

// Reactions returns a copy of every reaction call.
func (m *MockAdapter) Reactions() []ReactionCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReactionCall, len(m.reactions))
	copy(out, m.reactions)
	return out
}
