package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/trestle-dev/trestle/internal/agent"
	"github.com/trestle-dev/trestle/internal/models"
	"github.com/trestle-dev/trestle/internal/registry"
	"github.com/trestle-dev/trestle/internal/resolve"
)

// ackReaction marks an inbound message as received before any slow work
// starts.
const ackReaction = "eyes"

// Backend is the slice of the agent service API the orchestrator drives.
// *agent.Client satisfies it.
type Backend interface {
	CreateSession(ctx context.Context, req agent.CreateSessionRequest) (string, error)
	Prompt(ctx context.Context, sessionID string, req agent.PromptRequest) (string, error)
	Stop(ctx context.Context, sessionID string) error
}

// Orchestrator runs the conversation-to-session state machine. One
// instance serves every platform; the adapter passed alongside each event
// supplies the platform specifics.
type Orchestrator struct {
	registry *registry.Registry
	prefs    *Preferences
	cascade  *resolve.Cascade
	models   *resolve.ModelRegistry
	policies map[string]resolve.RepoPolicy // keyed by repo full name
	backend  Backend
}

// OrchestratorOpts holds parameters for creating an Orchestrator.
type OrchestratorOpts struct {
	Registry *registry.Registry
	Prefs    *Preferences
	Cascade  *resolve.Cascade
	Models   *resolve.ModelRegistry
	Policies map[string]resolve.RepoPolicy
	Backend  Backend
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts OrchestratorOpts) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("bridge: orchestrator: registry is required")
	}
	if opts.Prefs == nil {
		return nil, fmt.Errorf("bridge: orchestrator: preferences store is required")
	}
	if opts.Cascade == nil {
		return nil, fmt.Errorf("bridge: orchestrator: resolution cascade is required")
	}
	if opts.Models == nil {
		return nil, fmt.Errorf("bridge: orchestrator: model registry is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("bridge: orchestrator: backend client is required")
	}
	policies := opts.Policies
	if policies == nil {
		policies = map[string]resolve.RepoPolicy{}
	}
	return &Orchestrator{
		registry: opts.Registry,
		prefs:    opts.Prefs,
		cascade:  opts.Cascade,
		models:   opts.Models,
		policies: policies,
		backend:  opts.Backend,
	}, nil
}

// HandleEvent dispatches one normalized platform event. It runs on the
// executor, off the webhook request path; errors end up in the logs and,
// where the requester can act on them, in the conversation.
func (o *Orchestrator) HandleEvent(ctx context.Context, adapter Adapter, ev *Event) {
	switch ev.Kind {
	case EventIgnore, EventChallenge:
		return
	case EventSetPreference:
		o.handleSetPreference(ctx, adapter, ev)
	case EventStop:
		o.handleStop(ctx, adapter, ev)
	case EventNewConversation, EventFollowUp:
		o.handleMessage(ctx, adapter, ev)
	default:
		log.Printf("bridge: %s: unhandled event kind %q", ev.Platform, ev.Kind)
	}
}

// handleMessage routes a conversation message. The registry, not the
// adapter's guess, decides whether this continues a session or starts one:
// a reply in a thread whose session expired starts fresh.
func (o *Orchestrator) handleMessage(ctx context.Context, adapter Adapter, ev *Event) {
	mapping, err := o.registry.Lookup(ev.Conversation.Key)
	if err != nil {
		log.Printf("bridge: %s: lookup %s: %v", ev.Platform, ev.Conversation.Key, err)
		o.post(ctx, adapter, ev.Conversation, formatFailure("look up this conversation"))
		return
	}
	if mapping != nil {
		o.followUp(ctx, adapter, ev, mapping)
		return
	}
	if ev.OnlyIfActive {
		// Passive chatter in a conversation with no session is not for us.
		return
	}
	o.startConversation(ctx, adapter, ev)
}

// startConversation resolves the target repository, creates a backend
// session, forwards the first prompt, and persists the mapping — in that
// order. A backend failure is reported and leaves no mapping behind.
func (o *Orchestrator) startConversation(ctx context.Context, adapter Adapter, ev *Event) {
	o.ack(ctx, adapter, ev)

	cand, err := o.resolveRepo(ctx, ev)
	if err != nil {
		log.Printf("bridge: %s: resolve %s: %v", ev.Platform, ev.Conversation.Key, err)
		o.post(ctx, adapter, ev.Conversation, formatFailure("resolve the target repository"))
		return
	}
	if !cand.Definite() {
		o.post(ctx, adapter, ev.Conversation, formatClarification(cand))
		return
	}

	userPref, err := o.prefs.Get(ev.UserID)
	if err != nil {
		log.Printf("bridge: %s: preferences for %s: %v", ev.Platform, ev.UserID, err)
		userPref = resolve.Override{}
	}
	choice := o.models.ResolveModel(o.policies[cand.FullName], userPref, ev.Override)

	sessionID, err := o.backend.CreateSession(ctx, agent.CreateSessionRequest{
		RepoOwner:       cand.Owner,
		RepoName:        cand.Name,
		Title:           deriveTitle(ev.Text),
		Model:           choice.Model,
		ReasoningEffort: choice.Effort,
	})
	if err != nil {
		log.Printf("bridge: %s: create session for %s: %v", ev.Platform, ev.Conversation.Key, err)
		o.post(ctx, adapter, ev.Conversation, formatFailure("start a session"))
		return
	}

	messageID, err := o.backend.Prompt(ctx, sessionID, agent.PromptRequest{
		Content:  ev.Text,
		AuthorID: ev.UserID,
		Source:   ev.Platform,
		CallbackContext: &agent.CallbackContext{
			Platform:        ev.Platform,
			ConversationKey: ev.Conversation.Key,
		},
	})
	if err != nil {
		log.Printf("bridge: %s: prompt session %s: %v", ev.Platform, sessionID, err)
		if stopErr := o.backend.Stop(ctx, sessionID); stopErr != nil {
			log.Printf("bridge: %s: stop orphaned session %s: %v", ev.Platform, sessionID, stopErr)
		}
		o.post(ctx, adapter, ev.Conversation, formatFailure("send your request to the session"))
		return
	}

	err = o.registry.Save(&models.SessionMapping{
		ConversationKey:  ev.Conversation.Key,
		ConversationKind: ev.Conversation.Kind,
		Platform:         ev.Platform,
		SessionID:        sessionID,
		RepoOwner:        cand.Owner,
		RepoName:         cand.Name,
		Model:            choice.Model,
		ReasoningEffort:  choice.Effort,
		LastMessageID:    messageID,
	})
	if err != nil {
		// The session is live but untracked; follow-ups in this thread
		// will start a second one.
		log.Printf("bridge: %s: save mapping %s -> %s: %v", ev.Platform, ev.Conversation.Key, sessionID, err)
	}

	o.post(ctx, adapter, ev.Conversation, formatStarted(cand.FullName, choice.Model))
}

// resolveRepo picks the target repository. A repository named by the
// platform itself (issue webhooks) wins outright; everything else goes
// through the cascade.
func (o *Orchestrator) resolveRepo(ctx context.Context, ev *Event) (*resolve.RepoCandidate, error) {
	if ev.Repo != "" {
		owner, name, err := resolve.SplitFullName(ev.Repo)
		if err != nil {
			return nil, err
		}
		return &resolve.RepoCandidate{
			Owner:      owner,
			Name:       name,
			FullName:   ev.Repo,
			Confidence: resolve.ConfidenceHigh,
			Reasoning:  "Repository named by the originating platform.",
			Source:     "platform",
		}, nil
	}
	return o.cascade.Resolve(ctx, resolve.Request{
		Platform:   ev.Platform,
		ProjectKey: ev.ProjectKey,
		ChannelID:  ev.Conversation.ChannelID,
		Labels:     ev.Labels,
		Text:       ev.Text,
	})
}

// followUp forwards one message to the conversation's existing session. A
// backend rejection means the session is gone on their side: the mapping
// is dropped and the requester is told to start over.
func (o *Orchestrator) followUp(ctx context.Context, adapter Adapter, ev *Event, mapping *models.SessionMapping) {
	o.ack(ctx, adapter, ev)

	content := ev.Text
	if mapping.LastResponse != "" {
		content = fmt.Sprintf("Context from your previous reply:\n%s\n\n%s", mapping.LastResponse, ev.Text)
	}

	messageID, err := o.backend.Prompt(ctx, mapping.SessionID, agent.PromptRequest{
		Content:  content,
		AuthorID: ev.UserID,
		Source:   ev.Platform,
		CallbackContext: &agent.CallbackContext{
			Platform:        ev.Platform,
			ConversationKey: ev.Conversation.Key,
		},
	})
	if err != nil {
		if sessionGone(err) {
			log.Printf("bridge: %s: session %s is gone, dropping mapping %s", ev.Platform, mapping.SessionID, ev.Conversation.Key)
			if delErr := o.registry.Delete(ev.Conversation.Key); delErr != nil {
				log.Printf("bridge: %s: delete stale mapping %s: %v", ev.Platform, ev.Conversation.Key, delErr)
			}
			o.post(ctx, adapter, ev.Conversation, "That session has ended. Send your request again to start a new one.")
			return
		}
		log.Printf("bridge: %s: prompt session %s: %v", ev.Platform, mapping.SessionID, err)
		o.post(ctx, adapter, ev.Conversation, formatFailure("forward your message"))
		return
	}

	if err := o.registry.RecordResponse(ev.Conversation.Key, messageID, mapping.LastResponse); err != nil {
		log.Printf("bridge: %s: record message id on %s: %v", ev.Platform, ev.Conversation.Key, err)
	}
}

// handleStop cancels the conversation's session. Stopping a conversation
// with no session is a silent no-op; the backend stop is best-effort and
// the mapping is removed regardless.
func (o *Orchestrator) handleStop(ctx context.Context, adapter Adapter, ev *Event) {
	mapping, err := o.registry.Lookup(ev.Conversation.Key)
	if err != nil {
		log.Printf("bridge: %s: lookup %s: %v", ev.Platform, ev.Conversation.Key, err)
		return
	}
	if mapping == nil {
		return
	}
	if err := o.backend.Stop(ctx, mapping.SessionID); err != nil {
		log.Printf("bridge: %s: stop session %s: %v", ev.Platform, mapping.SessionID, err)
	}
	if err := o.registry.Delete(ev.Conversation.Key); err != nil {
		log.Printf("bridge: %s: delete mapping %s: %v", ev.Platform, ev.Conversation.Key, err)
	}
	o.post(ctx, adapter, ev.Conversation, "Stopped the session for this conversation.")
}

// handleSetPreference validates and stores a user's model preference.
func (o *Orchestrator) handleSetPreference(ctx context.Context, adapter Adapter, ev *Event) {
	model := strings.TrimSpace(ev.Override.Model)
	effort := strings.TrimSpace(ev.Override.Effort)
	if model == "" && effort == "" {
		o.post(ctx, adapter, ev.Conversation, "Nothing to set. Name a model, a reasoning effort, or both.")
		return
	}
	if model != "" && !o.models.Known(model) {
		o.post(ctx, adapter, ev.Conversation, fmt.Sprintf("I don't know the model %q.", model))
		return
	}
	if model != "" && effort != "" && !o.models.SupportsEffort(model, effort) {
		o.post(ctx, adapter, ev.Conversation, fmt.Sprintf("Model %s does not support reasoning effort %q.", model, effort))
		return
	}
	if err := o.prefs.Set(ev.UserID, model, effort); err != nil {
		log.Printf("bridge: %s: set preference for %s: %v", ev.Platform, ev.UserID, err)
		o.post(ctx, adapter, ev.Conversation, formatFailure("save your preference"))
		return
	}
	switch {
	case model != "" && effort != "":
		o.post(ctx, adapter, ev.Conversation, fmt.Sprintf("Got it — your sessions will use %s with %s reasoning.", model, effort))
	case model != "":
		o.post(ctx, adapter, ev.Conversation, fmt.Sprintf("Got it — your sessions will use %s.", model))
	default:
		o.post(ctx, adapter, ev.Conversation, fmt.Sprintf("Got it — your sessions will use %s reasoning.", effort))
	}
}

// ack adds the acknowledgment reaction. Best-effort: a failure is logged
// and never blocks the main path.
func (o *Orchestrator) ack(ctx context.Context, adapter Adapter, ev *Event) {
	if ev.Message.MessageID == "" {
		return
	}
	if err := adapter.AddReaction(ctx, ev.Message, ackReaction); err != nil {
		log.Printf("bridge: %s: ack reaction on %s: %v", ev.Platform, ev.Message.MessageID, err)
	}
}

// post sends text to the conversation, logging the failure. There is
// nowhere further to escalate a failed notification.
func (o *Orchestrator) post(ctx context.Context, adapter Adapter, conv Conversation, text string) {
	if err := adapter.PostMessage(ctx, conv, text); err != nil {
		log.Printf("bridge: %s: post to %s: %v", adapter.Platform(), conv.Key, err)
	}
}

// sessionGone reports whether a backend error means the session no longer
// exists, as opposed to a transient failure.
func sessionGone(err error) bool {
	var apiErr *agent.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone
}
