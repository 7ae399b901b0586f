// Package github implements the bridge Adapter over GitHub issue webhooks.
// An issue becomes a conversation: opening one with the trigger label (or
// a bot mention) starts a session, and later comments continue it.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"github.com/trestle-dev/trestle/internal/bridge"
	"github.com/trestle-dev/trestle/internal/models"
	"github.com/trestle-dev/trestle/internal/resolve"
	"github.com/trestle-dev/trestle/internal/signature"
)

// Signature and delivery headers per the GitHub webhook protocol.
const (
	signatureHeader = "X-Hub-Signature-256"
	deliveryHeader  = "X-GitHub-Delivery"
)

// TriggerLabel marks issues that should be routed to an agent session.
const TriggerLabel = "agent"

// issuesClient abstracts the GitHub API methods we use, enabling test
// mocks.
type issuesClient interface {
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error
	CreateIssueReaction(ctx context.Context, owner, repo string, number int, content string) error
	CreateCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error
}

// apiClient wraps *gh.Client to implement issuesClient.
type apiClient struct {
	client *gh.Client
}

func (c *apiClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := c.client.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{Body: gh.String(body)})
	return err
}

func (c *apiClient) CreateIssueReaction(ctx context.Context, owner, repo string, number int, content string) error {
	_, _, err := c.client.Reactions.CreateIssueReaction(ctx, owner, repo, number, content)
	return err
}

func (c *apiClient) CreateCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error {
	_, _, err := c.client.Reactions.CreateIssueCommentReaction(ctx, owner, repo, commentID, content)
	return err
}

// Adapter implements bridge.Adapter for GitHub issues.
type Adapter struct {
	client        issuesClient
	webhookSecret string
	botLogin      string
}

// AdapterOpts holds parameters for creating a GitHub Adapter.
type AdapterOpts struct {
	WebhookSecret string
	Token         string // personal access token or app installation token
	BotLogin      string // used to drop the bot's own comments
	// For testing: inject a mock client instead of the real GitHub API.
	Client issuesClient
}

// New creates a GitHub Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.WebhookSecret == "" {
		return nil, fmt.Errorf("github: webhook secret is required")
	}
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("github: api token is required")
	}
	client := opts.Client
	if client == nil {
		client = &apiClient{client: gh.NewClient(nil).WithAuthToken(opts.Token)}
	}
	return &Adapter{
		client:        client,
		webhookSecret: opts.WebhookSecret,
		botLogin:      opts.BotLogin,
	}, nil
}

// Platform returns "github".
func (a *Adapter) Platform() string { return "github" }

// VerifyRequest checks the sha256= signature over the raw body.
func (a *Adapter) VerifyRequest(r *http.Request, body []byte) bool {
	return signature.VerifyGitHub(body, r.Header.Get(signatureHeader), []byte(a.webhookSecret))
}

// ParseRequest normalizes a verified webhook delivery.
func (a *Adapter) ParseRequest(r *http.Request, body []byte) (*bridge.Event, error) {
	payload, err := gh.ParseWebHook(gh.WebHookType(r), body)
	if err != nil {
		return nil, fmt.Errorf("github: parse %s webhook: %w", gh.WebHookType(r), err)
	}
	deliveryID := r.Header.Get(deliveryHeader)

	switch ev := payload.(type) {
	case *gh.IssuesEvent:
		return a.parseIssuesEvent(ev, deliveryID), nil
	case *gh.IssueCommentEvent:
		return a.parseCommentEvent(ev, deliveryID), nil
	case *gh.PingEvent:
		return a.ignore(deliveryID), nil
	default:
		return nil, fmt.Errorf("github: unhandled event type %q", gh.WebHookType(r))
	}
}

// parseIssuesEvent routes issue lifecycle actions. An issue enters the
// bridge when it is opened carrying the trigger label or a bot mention, or
// when the trigger label is added later; closing it stops the session.
func (a *Adapter) parseIssuesEvent(ev *gh.IssuesEvent, deliveryID string) *bridge.Event {
	issue := ev.GetIssue()
	repo := ev.GetRepo()
	if issue == nil || repo == nil {
		return a.ignore(deliveryID)
	}
	if issue.GetUser().GetLogin() == a.botLogin {
		return a.ignore(deliveryID)
	}

	labels := labelNames(issue.Labels)
	triggered := hasLabel(labels, TriggerLabel) || a.mentioned(issue.GetBody())

	switch ev.GetAction() {
	case "opened":
		if !triggered {
			return a.ignore(deliveryID)
		}
	case "labeled":
		if !strings.EqualFold(ev.GetLabel().GetName(), TriggerLabel) {
			return a.ignore(deliveryID)
		}
		// Labeling a closed issue must not resurrect it.
		if issue.GetState() != "open" {
			return a.ignore(deliveryID)
		}
	case "closed":
		out := a.issueEvent(bridge.EventStop, deliveryID, repo, issue)
		return out
	default:
		return a.ignore(deliveryID)
	}

	out := a.issueEvent(bridge.EventNewConversation, deliveryID, repo, issue)
	out.Text = strings.TrimSpace(issue.GetTitle() + "\n\n" + issue.GetBody())
	out.Labels = labels
	out.Override = overrideFromLabels(labels)
	return out
}

// parseCommentEvent turns created comments into follow-ups. A comment
// never starts a session on its own unless it mentions the bot.
func (a *Adapter) parseCommentEvent(ev *gh.IssueCommentEvent, deliveryID string) *bridge.Event {
	issue := ev.GetIssue()
	repo := ev.GetRepo()
	comment := ev.GetComment()
	if issue == nil || repo == nil || comment == nil || ev.GetAction() != "created" {
		return a.ignore(deliveryID)
	}
	if comment.GetUser().GetLogin() == a.botLogin {
		return a.ignore(deliveryID)
	}

	out := a.issueEvent(bridge.EventFollowUp, deliveryID, repo, issue)
	out.Text = stripMention(comment.GetBody(), a.botLogin)
	out.UserID = comment.GetUser().GetLogin()
	out.Message.MessageID = "comment:" + strconv.FormatInt(comment.GetID(), 10)
	out.OnlyIfActive = !a.mentioned(comment.GetBody())
	out.Labels = labelNames(issue.Labels)
	out.Override = overrideFromLabels(out.Labels)
	bridge.ApplyCommand(out, out.Text)
	return out
}

// issueEvent builds the common shape for issue-scoped events. The
// conversation key is "owner/repo#number".
func (a *Adapter) issueEvent(kind bridge.EventKind, deliveryID string, repo *gh.Repository, issue *gh.Issue) *bridge.Event {
	fullName := repo.GetFullName()
	number := issue.GetNumber()
	key := fmt.Sprintf("%s#%d", fullName, number)
	return &bridge.Event{
		Platform: a.Platform(),
		Kind:     kind,
		EventID:  deliveryID,
		Conversation: bridge.Conversation{
			Kind:      models.ConversationIssue,
			Key:       key,
			ChannelID: fullName,
			ThreadID:  strconv.Itoa(number),
		},
		Message: bridge.MessageRef{
			ChannelID: fullName,
			MessageID: "issue:" + strconv.Itoa(number),
		},
		UserID: issue.GetUser().GetLogin(),
		Repo:   fullName,
	}
}

func (a *Adapter) ignore(deliveryID string) *bridge.Event {
	return &bridge.Event{Platform: a.Platform(), Kind: bridge.EventIgnore, EventID: deliveryID}
}

// mentioned reports whether the text mentions the bot login.
func (a *Adapter) mentioned(text string) bool {
	return a.botLogin != "" && strings.Contains(text, "@"+a.botLogin)
}

// PostMessage comments on the issue.
func (a *Adapter) PostMessage(ctx context.Context, conv bridge.Conversation, text string) error {
	owner, repo, number, err := splitIssueRef(conv.ChannelID, conv.ThreadID)
	if err != nil {
		return err
	}
	if err := a.client.CreateComment(ctx, owner, repo, number, text); err != nil {
		return fmt.Errorf("github: comment on %s#%d: %w", conv.ChannelID, number, err)
	}
	return nil
}

// AddReaction reacts on the issue or comment the message ref points at.
func (a *Adapter) AddReaction(ctx context.Context, ref bridge.MessageRef, name string) error {
	owner, repo, ok := strings.Cut(ref.ChannelID, "/")
	if !ok {
		return fmt.Errorf("github: malformed repo %q", ref.ChannelID)
	}
	kind, id, ok := strings.Cut(ref.MessageID, ":")
	if !ok {
		return fmt.Errorf("github: malformed message ref %q", ref.MessageID)
	}
	switch kind {
	case "issue":
		number, err := strconv.Atoi(id)
		if err != nil {
			return fmt.Errorf("github: malformed issue number %q", id)
		}
		return a.client.CreateIssueReaction(ctx, owner, repo, number, name)
	case "comment":
		commentID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("github: malformed comment id %q", id)
		}
		return a.client.CreateCommentReaction(ctx, owner, repo, commentID, name)
	default:
		return fmt.Errorf("github: unknown message ref kind %q", kind)
	}
}

// RemoveReaction is a no-op: reaction ids are not tracked, and a stale
// acknowledgment reaction on an issue is harmless.
func (a *Adapter) RemoveReaction(ctx context.Context, ref bridge.MessageRef, name string) error {
	return nil
}

// splitIssueRef splits ("owner/repo", "42") into its API arguments.
func splitIssueRef(fullName, threadID string) (owner, repo string, number int, err error) {
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok {
		return "", "", 0, fmt.Errorf("github: malformed repo %q", fullName)
	}
	number, err = strconv.Atoi(threadID)
	if err != nil {
		return "", "", 0, fmt.Errorf("github: malformed issue number %q", threadID)
	}
	return owner, repo, number, nil
}

func labelNames(labels []*gh.Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, want) {
			return true
		}
	}
	return false
}

// overrideFromLabels extracts "model:<name>" and "effort:<level>" labels.
// Whether they take effect is the repo policy's decision, not ours.
func overrideFromLabels(labels []string) resolve.Override {
	var o resolve.Override
	for _, l := range labels {
		if v, ok := strings.CutPrefix(l, "model:"); ok {
			o.Model = v
		} else if v, ok := strings.CutPrefix(l, "effort:"); ok {
			o.Effort = v
		}
	}
	return o
}

// stripMention removes the bot mention token from comment text.
func stripMention(text, botLogin string) string {
	if botLogin == "" {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "@"+botLogin, ""))
}
