package bridge

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/trestle-dev/trestle/internal/agent"
	"github.com/trestle-dev/trestle/internal/aggregate"
	"github.com/trestle-dev/trestle/internal/models"
	"github.com/trestle-dev/trestle/internal/registry"
)

// Completion is the backend's execution-complete callback payload, after
// the server has verified its signature.
type Completion struct {
	SessionID string
	MessageID string
	Success   bool
	Context   *agent.CallbackContext
}

// Completer turns completion callbacks into conversation posts. It finds
// the originating conversation, aggregates the session's event log into a
// summary, and delivers it through the right platform adapter.
type Completer struct {
	registry   *registry.Registry
	aggregator *aggregate.Aggregator
	adapters   map[string]Adapter // keyed by platform tag
}

// CompleterOpts holds parameters for creating a Completer.
type CompleterOpts struct {
	Registry   *registry.Registry
	Aggregator *aggregate.Aggregator
	Adapters   []Adapter
}

// NewCompleter creates a Completer.
func NewCompleter(opts CompleterOpts) (*Completer, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("bridge: completer: registry is required")
	}
	if opts.Aggregator == nil {
		return nil, fmt.Errorf("bridge: completer: aggregator is required")
	}
	if len(opts.Adapters) == 0 {
		return nil, fmt.Errorf("bridge: completer: at least one adapter is required")
	}
	adapters := make(map[string]Adapter, len(opts.Adapters))
	for _, a := range opts.Adapters {
		adapters[a.Platform()] = a
	}
	return &Completer{
		registry:   opts.Registry,
		aggregator: opts.Aggregator,
		adapters:   adapters,
	}, nil
}

// HandleCompletion processes one completion callback. The callback context
// echoed by the backend is the primary route back to the conversation; the
// session registry is the fallback when the context is missing.
func (c *Completer) HandleCompletion(ctx context.Context, cb Completion) {
	platform, conv, ok := c.locate(cb)
	if !ok {
		log.Printf("bridge: completion for session %s: no conversation found, dropping", cb.SessionID)
		return
	}
	adapter, ok := c.adapters[platform]
	if !ok {
		log.Printf("bridge: completion for session %s: no adapter for platform %q", cb.SessionID, platform)
		return
	}

	summary, err := c.aggregator.Aggregate(ctx, cb.SessionID, cb.MessageID)
	if err != nil {
		log.Printf("bridge: completion for session %s: aggregate: %v", cb.SessionID, err)
		text := "The session finished but I couldn't retrieve its output."
		if !cb.Success {
			text = "The session finished without completing the task."
		}
		if err := adapter.PostMessage(ctx, conv, text); err != nil {
			log.Printf("bridge: completion for session %s: post to %s: %v", cb.SessionID, conv.Key, err)
		}
		return
	}
	// The callback's success flag wins over whatever the event log says;
	// the backend may have failed after the last execution_complete event.
	summary.Success = summary.Success && cb.Success

	if err := c.registry.RecordResponse(conv.Key, cb.MessageID, summary.Text); err != nil {
		log.Printf("bridge: completion for session %s: record response: %v", cb.SessionID, err)
	}

	if err := adapter.PostMessage(ctx, conv, formatCompletion(summary)); err != nil {
		log.Printf("bridge: completion for session %s: post to %s: %v", cb.SessionID, conv.Key, err)
	}
}

// HandlePlanUpdate mirrors one plan step change into the conversation.
// Best-effort: a session nobody is tracking, or a failed post, is logged
// and dropped.
func (c *Completer) HandlePlanUpdate(ctx context.Context, sessionID string, step agent.PlanStep) {
	mapping, err := c.registry.BySession(sessionID)
	if err != nil {
		log.Printf("bridge: plan update for session %s: registry lookup: %v", sessionID, err)
		return
	}
	if mapping == nil {
		return
	}
	adapter, ok := c.adapters[mapping.Platform]
	if !ok {
		return
	}
	conv := conversationFromKey(mapping.ConversationKind, mapping.ConversationKey)
	text := fmt.Sprintf("%s %s", planMarker(step.Status), step.Title)
	if err := adapter.PostMessage(ctx, conv, text); err != nil {
		log.Printf("bridge: plan update for session %s: post to %s: %v", sessionID, conv.Key, err)
	}
}

// locate finds the platform and conversation for a callback, preferring
// the echoed callback context and falling back to a registry lookup by
// session id.
func (c *Completer) locate(cb Completion) (string, Conversation, bool) {
	if cb.Context != nil && cb.Context.ConversationKey != "" {
		kind := models.ConversationThread
		if strings.Contains(cb.Context.ConversationKey, "#") {
			kind = models.ConversationIssue
		}
		return cb.Context.Platform, conversationFromKey(kind, cb.Context.ConversationKey), true
	}

	mapping, err := c.registry.BySession(cb.SessionID)
	if err != nil {
		log.Printf("bridge: completion for session %s: registry lookup: %v", cb.SessionID, err)
		return "", Conversation{}, false
	}
	if mapping == nil {
		return "", Conversation{}, false
	}
	return mapping.Platform, conversationFromKey(mapping.ConversationKind, mapping.ConversationKey), true
}

// conversationFromKey rebuilds a Conversation from its canonical key.
// Thread keys are "channel:threadID"; issue keys are "owner/repo#number",
// where the channel slot carries "owner/repo" and the thread slot the
// issue number.
func conversationFromKey(kind, key string) Conversation {
	conv := Conversation{Kind: kind, Key: key}
	switch kind {
	case models.ConversationIssue:
		if repo, number, ok := strings.Cut(key, "#"); ok {
			conv.ChannelID = repo
			conv.ThreadID = number
		}
	default:
		if channel, thread, ok := strings.Cut(key, ":"); ok {
			conv.ChannelID = channel
			conv.ThreadID = thread
		}
	}
	return conv
}
