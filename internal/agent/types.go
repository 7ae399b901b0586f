package agent

import "time"

// CreateSessionRequest opens a new backend session against a repository.
type CreateSessionRequest struct {
	RepoOwner       string `json:"repoOwner"`
	RepoName        string `json:"repoName"`
	Title           string `json:"title"`
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoningEffort,omitempty"`
}

// PromptRequest forwards one user message to a session.
type PromptRequest struct {
	Content         string           `json:"content"`
	AuthorID        string           `json:"authorId"`
	Source          string           `json:"source"`
	CallbackContext *CallbackContext `json:"callbackContext,omitempty"`
}

// CallbackContext is opaque to the backend; it is echoed back on the
// completion callback so Trestle can find the originating conversation.
type CallbackContext struct {
	Platform        string `json:"platform"`
	ConversationKey string `json:"conversationKey"`
}

// Event kinds in the backend session event log.
const (
	EventToken             = "token"
	EventToolCall          = "tool_call"
	EventArtifact          = "artifact"
	EventPlanUpdate        = "plan_update"
	EventExecutionComplete = "execution_complete"
)

// Event is one entry of the session event log. Token events carry
// cumulative text snapshots, not deltas.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text,omitempty"`
	ToolKind  string    `json:"toolKind,omitempty"`  // read, write, edit, shell, search
	ToolInput string    `json:"toolInput,omitempty"` // path, command, or query
	Artifact  *Artifact `json:"artifact,omitempty"`
	PlanStep  *PlanStep `json:"planStep,omitempty"`
	Success   *bool     `json:"success,omitempty"` // execution_complete only
}

// PlanStep mirrors one step of the backend's client-visible plan.
type PlanStep struct {
	Title  string `json:"title"`
	Status string `json:"status"` // pending, in-progress, completed, canceled
}

// Artifact is a session output (file, link, image).
type Artifact struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// EventsPage is one page of the event log.
type EventsPage struct {
	Events  []Event `json:"events"`
	Cursor  string  `json:"cursor,omitempty"`
	HasMore bool    `json:"hasMore"`
}
