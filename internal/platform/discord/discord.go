// Package discord implements the bridge Adapter for Discord. Inbound
// events arrive through a relay that forwards gateway messages as
// HMAC-signed webhooks (Discord has no native outbound webhook for guild
// messages); outbound posting uses the Discord REST API.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/trestle-dev/trestle/internal/bridge"
	"github.com/trestle-dev/trestle/internal/models"
	"github.com/trestle-dev/trestle/internal/signature"
)

// relaySignatureHeader carries the relay's hex HMAC over the raw body.
const relaySignatureHeader = "X-Relay-Signature"

// reactionEmoji maps reaction names to the Unicode emoji Discord expects.
var reactionEmoji = map[string]string{
	"eyes":             "👀",
	"white_check_mark": "✅",
	"x":                "❌",
}

// discordClient abstracts the REST methods we use, enabling test mocks.
// *discordgo.Session satisfies it.
type discordClient interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
}

// relayMessage is the payload the relay forwards for each guild message.
// The relay opens a thread for fresh mentions, so thread_id is always set.
type relayMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id"`
	Content   string `json:"content"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
	MentionsBot bool `json:"mentions_bot"`
}

// Adapter implements bridge.Adapter for Discord.
type Adapter struct {
	client        discordClient
	webhookSecret string
	botUserID     string
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	WebhookSecret string // shared with the relay
	BotToken      string // Discord bot token for outbound REST calls
	BotUserID     string // used to drop the bot's own messages
	// For testing: inject a mock client instead of the real REST API.
	Client discordClient
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.WebhookSecret == "" {
		return nil, fmt.Errorf("discord: webhook secret is required")
	}
	client := opts.Client
	if client == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("discord: bot token is required")
		}
		session, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		client = session
	}
	return &Adapter{
		client:        client,
		webhookSecret: opts.WebhookSecret,
		botUserID:     opts.BotUserID,
	}, nil
}

// Platform returns "discord".
func (a *Adapter) Platform() string { return "discord" }

// VerifyRequest checks the relay's HMAC over the raw body.
func (a *Adapter) VerifyRequest(r *http.Request, body []byte) bool {
	return signature.Verify(body, r.Header.Get(relaySignatureHeader), []byte(a.webhookSecret))
}

// ParseRequest normalizes a relayed message.
func (a *Adapter) ParseRequest(r *http.Request, body []byte) (*bridge.Event, error) {
	var msg relayMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("discord: parse relay payload: %w", err)
	}
	if msg.ID == "" || msg.ChannelID == "" || msg.ThreadID == "" {
		return nil, fmt.Errorf("discord: relay payload missing id, channel_id, or thread_id")
	}
	if msg.Author.Bot || msg.Author.ID == a.botUserID {
		return &bridge.Event{Platform: a.Platform(), Kind: bridge.EventIgnore, EventID: msg.ID}, nil
	}

	kind := bridge.EventFollowUp
	if msg.MentionsBot {
		kind = bridge.EventNewConversation
	}
	ev := &bridge.Event{
		Platform: a.Platform(),
		Kind:     kind,
		EventID:  msg.ID,
		Conversation: bridge.Conversation{
			Kind:      models.ConversationThread,
			Key:       msg.ChannelID + ":" + msg.ThreadID,
			ChannelID: msg.ChannelID,
			ThreadID:  msg.ThreadID,
		},
		Message:  bridge.MessageRef{ChannelID: msg.ThreadID, MessageID: msg.ID},
		UserID:   msg.Author.ID,
		UserName: msg.Author.Username,
		Text:     msg.Content,
		// An unmentioned thread message continues a session but never
		// starts one.
		OnlyIfActive: !msg.MentionsBot,
	}
	bridge.ApplyCommand(ev, msg.Content)
	return ev, nil
}

// PostMessage sends text into the conversation's thread. Discord threads
// are channels, so the thread id is the send target.
func (a *Adapter) PostMessage(ctx context.Context, conv bridge.Conversation, text string) error {
	target := conv.ThreadID
	if target == "" {
		target = conv.ChannelID
	}
	if _, err := a.client.ChannelMessageSend(target, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: post to %s: %w", target, err)
	}
	return nil
}

// AddReaction adds an emoji reaction to the message.
func (a *Adapter) AddReaction(ctx context.Context, ref bridge.MessageRef, name string) error {
	if err := a.client.MessageReactionAdd(ref.ChannelID, ref.MessageID, emojiFor(name), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: add reaction %s: %w", name, err)
	}
	return nil
}

// RemoveReaction removes the bot's own reaction from the message.
func (a *Adapter) RemoveReaction(ctx context.Context, ref bridge.MessageRef, name string) error {
	if err := a.client.MessageReactionRemove(ref.ChannelID, ref.MessageID, emojiFor(name), "@me", discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: remove reaction %s: %w", name, err)
	}
	return nil
}

// emojiFor translates a reaction name to a Discord emoji, falling back to
// the name itself for custom emoji ids.
func emojiFor(name string) string {
	if emoji, ok := reactionEmoji[name]; ok {
		return emoji
	}
	return name
}
