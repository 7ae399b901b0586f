package discord

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/trestle-dev/trestle/internal/bridge"
	"github.com/trestle-dev/trestle/internal/signature"
)

// --- Mock Discord client ---

type mockClient struct {
	mu        sync.Mutex
	sent      []sentMessage
	sendErr   error
	reactions []string
}

type sentMessage struct {
	channelID string
	content   string
}

func (m *mockClient) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ID: "m-1"}, nil
}

func (m *mockClient) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, fmt.Sprintf("add %s %s %s", channelID, messageID, emojiID))
	return nil
}

func (m *mockClient) MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, fmt.Sprintf("remove %s %s %s %s", channelID, messageID, emojiID, userID))
	return nil
}

func newTestAdapter(t *testing.T) (*Adapter, *mockClient) {
	t.Helper()
	client := &mockClient{}
	a, err := New(AdapterOpts{
		WebhookSecret: "shh",
		BotUserID:     "BOT1",
		Client:        client,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, client
}

func relayPayload(id, content, authorID string, bot, mentionsBot bool) string {
	return fmt.Sprintf(`{
		"id": %q,
		"channel_id": "CH1",
		"thread_id": "TH1",
		"content": %q,
		"author": {"id": %q, "username": "someone", "bot": %t},
		"mentions_bot": %t
	}`, id, content, authorID, bot, mentionsBot)
}

func parse(t *testing.T, a *Adapter, body string) *bridge.Event {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/discord", bytes.NewReader([]byte(body)))
	ev, err := a.ParseRequest(req, []byte(body))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	return ev
}

// --- Tests ---

func TestVerifyRequest(t *testing.T) {
	a, _ := newTestAdapter(t)
	body := []byte(`{"id":"1"}`)
	sig := signature.Sign(body, []byte("shh"))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/discord", bytes.NewReader(body))
	req.Header.Set(relaySignatureHeader, sig)
	if !a.VerifyRequest(req, body) {
		t.Error("valid signature rejected")
	}

	req.Header.Set(relaySignatureHeader, "deadbeef")
	if a.VerifyRequest(req, body) {
		t.Error("bad signature accepted")
	}
}

func TestParseMentionStartsConversation(t *testing.T) {
	a, _ := newTestAdapter(t)
	ev := parse(t, a, relayPayload("m-1", "fix the build", "U1", false, true))

	if ev.Kind != bridge.EventNewConversation {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if ev.Conversation.Key != "CH1:TH1" {
		t.Errorf("conversation key = %q", ev.Conversation.Key)
	}
	if ev.OnlyIfActive {
		t.Error("mention should be able to start a session")
	}
}

func TestParseThreadMessageIsPassiveFollowUp(t *testing.T) {
	a, _ := newTestAdapter(t)
	ev := parse(t, a, relayPayload("m-2", "any update?", "U1", false, false))

	if ev.Kind != bridge.EventFollowUp {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if !ev.OnlyIfActive {
		t.Error("unmentioned thread message should not start a session")
	}
}

func TestParseBotMessageIgnored(t *testing.T) {
	a, _ := newTestAdapter(t)
	ev := parse(t, a, relayPayload("m-3", "I did the thing", "BOT1", false, false))
	if ev.Kind != bridge.EventIgnore {
		t.Errorf("kind = %q", ev.Kind)
	}
	ev = parse(t, a, relayPayload("m-4", "beep", "OTHERBOT", true, false))
	if ev.Kind != bridge.EventIgnore {
		t.Errorf("other bot kind = %q", ev.Kind)
	}
}

func TestParseStopCommand(t *testing.T) {
	a, _ := newTestAdapter(t)
	ev := parse(t, a, relayPayload("m-5", "stop", "U1", false, false))
	if ev.Kind != bridge.EventStop {
		t.Errorf("kind = %q", ev.Kind)
	}
}

func TestParseRejectsIncompletePayload(t *testing.T) {
	a, _ := newTestAdapter(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/discord", bytes.NewReader(nil))
	if _, err := a.ParseRequest(req, []byte(`{"id":"m-1"}`)); err == nil {
		t.Error("payload without channel parsed without error")
	}
}

func TestPostMessageTargetsThread(t *testing.T) {
	a, client := newTestAdapter(t)
	conv := bridge.Conversation{ChannelID: "CH1", ThreadID: "TH1"}
	if err := a.PostMessage(context.Background(), conv, "done"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if len(client.sent) != 1 || client.sent[0].channelID != "TH1" {
		t.Errorf("sent = %+v", client.sent)
	}
}

func TestReactionsTranslateEmoji(t *testing.T) {
	a, client := newTestAdapter(t)
	ref := bridge.MessageRef{ChannelID: "TH1", MessageID: "m-1"}
	if err := a.AddReaction(context.Background(), ref, "eyes"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if err := a.RemoveReaction(context.Background(), ref, "eyes"); err != nil {
		t.Fatalf("RemoveReaction: %v", err)
	}
	if len(client.reactions) != 2 {
		t.Fatalf("reactions = %v", client.reactions)
	}
	if client.reactions[0] != "add TH1 m-1 👀" {
		t.Errorf("add = %q", client.reactions[0])
	}
	if client.reactions[1] != "remove TH1 m-1 👀 @me" {
		t.Errorf("remove = %q", client.reactions[1])
	}
}
