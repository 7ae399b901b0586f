package slack

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	slackapi "github.com/slack-go/slack"
	"github.com/trestle-dev/trestle/internal/bridge"
	"github.com/trestle-dev/trestle/internal/signature"
)

// --- Mock Slack client ---

type mockClient struct {
	mu        sync.Mutex
	posts     []postCall
	postErr   error
	reactions []reactionCall
}

type postCall struct {
	channelID string
	options   []slackapi.MsgOption
}

type reactionCall struct {
	name    string
	item    slackapi.ItemRef
	removed bool
}

func (m *mockClient) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posts = append(m.posts, postCall{channelID: channelID, options: options})
	return channelID, "1700.99", nil
}

func (m *mockClient) AddReactionContext(ctx context.Context, name string, item slackapi.ItemRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, reactionCall{name: name, item: item})
	return nil
}

func (m *mockClient) RemoveReactionContext(ctx context.Context, name string, item slackapi.ItemRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, reactionCall{name: name, item: item, removed: true})
	return nil
}

func newTestAdapter(t *testing.T) (*Adapter, *mockClient) {
	t.Helper()
	client := &mockClient{}
	a, err := New(AdapterOpts{
		SigningSecret: "shh",
		BotUserID:     "UBOT",
		Client:        client,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, client
}

func parseBody(t *testing.T, a *Adapter, body string) *bridge.Event {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/slack", bytes.NewReader([]byte(body)))
	ev, err := a.ParseRequest(req, []byte(body))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	return ev
}

func mentionPayload(user, text, ts, threadTS string) string {
	thread := ""
	if threadTS != "" {
		thread = fmt.Sprintf(`,"thread_ts":%q`, threadTS)
	}
	return fmt.Sprintf(`{"type":"event_callback","event_id":"Ev1","event":{"type":"app_mention","user":%q,"text":%q,"ts":%q,"channel":"C01"%s}}`,
		user, text, ts, thread)
}

func threadMessagePayload(user, text, ts, threadTS string) string {
	return fmt.Sprintf(`{"type":"event_callback","event_id":"Ev2","event":{"type":"message","user":%q,"text":%q,"ts":%q,"channel":"C01","thread_ts":%q}}`,
		user, text, ts, threadTS)
}

// --- Tests ---

func TestVerifyRequest(t *testing.T) {
	a, _ := newTestAdapter(t)
	body := []byte(`{"type":"event_callback"}`)
	ts := "1700000000"
	sig := "v0=" + signature.Sign(signature.SlackBaseString(ts, body), []byte("shh"))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/slack", bytes.NewReader(body))
	req.Header.Set(timestampHeader, ts)
	req.Header.Set(signatureHeader, sig)
	if !a.VerifyRequest(req, body) {
		t.Error("valid signature rejected")
	}

	req.Header.Set(signatureHeader, "v0=deadbeef")
	if a.VerifyRequest(req, body) {
		t.Error("bad signature accepted")
	}

	req.Header.Del(signatureHeader)
	if a.VerifyRequest(req, body) {
		t.Error("missing signature accepted")
	}
}

func TestParseURLVerification(t *testing.T) {
	a, _ := newTestAdapter(t)
	ev := parseBody(t, a, `{"type":"url_verification","challenge":"abc123"}`)
	if ev.Kind != bridge.EventChallenge || ev.Challenge != "abc123" {
		t.Errorf("event = %+v", ev)
	}
}

func TestParseAppMentionStartsConversation(t *testing.T) {
	a, _ := newTestAdapter(t)
	ev := parseBody(t, a, mentionPayload("U42", "<@UBOT> fix the login flow", "1700.1", ""))

	if ev.Kind != bridge.EventNewConversation {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if ev.Conversation.Key != "C01:1700.1" {
		t.Errorf("conversation key = %q", ev.Conversation.Key)
	}
	if ev.Text != "fix the login flow" {
		t.Errorf("text = %q, mention not stripped", ev.Text)
	}
	if ev.UserID != "U42" || ev.EventID != "Ev1" {
		t.Errorf("user = %q, event id = %q", ev.UserID, ev.EventID)
	}
}

func TestParseMentionInThreadIsFollowUp(t *testing.T) {
	a, _ := newTestAdapter(t)
	ev := parseBody(t, a, mentionPayload("U42", "<@UBOT> and the logout too", "1700.5", "1700.1"))

	if ev.Kind != bridge.EventFollowUp {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if ev.Conversation.Key != "C01:1700.1" {
		t.Errorf("conversation key = %q, want thread root", ev.Conversation.Key)
	}
}

func TestParseThreadMessageIsFollowUp(t *testing.T) {
	a, _ := newTestAdapter(t)
	ev := parseBody(t, a, threadMessagePayload("U42", "any update?", "1700.7", "1700.1"))

	if ev.Kind != bridge.EventFollowUp {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if ev.Conversation.Key != "C01:1700.1" {
		t.Errorf("conversation key = %q", ev.Conversation.Key)
	}
}

func TestParseIgnoresBotAndUnthreadedMessages(t *testing.T) {
	a, _ := newTestAdapter(t)

	ev := parseBody(t, a, threadMessagePayload("UBOT", "I did the thing", "1700.8", "1700.1"))
	if ev.Kind != bridge.EventIgnore {
		t.Errorf("bot message kind = %q", ev.Kind)
	}

	ev = parseBody(t, a, `{"type":"event_callback","event_id":"Ev3","event":{"type":"message","user":"U42","text":"lunch?","ts":"1700.9","channel":"C01"}}`)
	if ev.Kind != bridge.EventIgnore {
		t.Errorf("unthreaded message kind = %q", ev.Kind)
	}
}

func TestParseMalformedPayloadErrors(t *testing.T) {
	a, _ := newTestAdapter(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/slack", bytes.NewReader([]byte("{")))
	if _, err := a.ParseRequest(req, []byte("{")); err == nil {
		t.Error("malformed payload parsed without error")
	}
}

func TestParseStopCommand(t *testing.T) {
	a, _ := newTestAdapter(t)
	ev := parseBody(t, a, threadMessagePayload("U42", "stop", "1700.7", "1700.1"))
	if ev.Kind != bridge.EventStop {
		t.Errorf("kind = %q, want stop", ev.Kind)
	}
}

func TestParseSetModelCommand(t *testing.T) {
	a, _ := newTestAdapter(t)
	ev := parseBody(t, a, mentionPayload("U42", "<@UBOT> set-model atlas-large high", "1700.1", ""))
	if ev.Kind != bridge.EventSetPreference {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if ev.Override.Model != "atlas-large" || ev.Override.Effort != "high" {
		t.Errorf("override = %+v", ev.Override)
	}
}

func TestPostMessageThreads(t *testing.T) {
	a, client := newTestAdapter(t)
	conv := bridge.Conversation{ChannelID: "C01", ThreadID: "1700.1"}
	if err := a.PostMessage(context.Background(), conv, "done"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if len(client.posts) != 1 || client.posts[0].channelID != "C01" {
		t.Errorf("posts = %+v", client.posts)
	}
}

func TestReactions(t *testing.T) {
	a, client := newTestAdapter(t)
	ref := bridge.MessageRef{ChannelID: "C01", MessageID: "1700.1"}
	if err := a.AddReaction(context.Background(), ref, "eyes"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if err := a.RemoveReaction(context.Background(), ref, "eyes"); err != nil {
		t.Fatalf("RemoveReaction: %v", err)
	}
	if len(client.reactions) != 2 || client.reactions[0].name != "eyes" || !client.reactions[1].removed {
		t.Errorf("reactions = %+v", client.reactions)
	}
}
