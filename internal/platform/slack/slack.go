// Package slack implements the bridge Adapter over the Slack Events API.
// Inbound events arrive as signed HTTP webhooks; outbound posting uses the
// Slack Web API.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/trestle-dev/trestle/internal/bridge"
	"github.com/trestle-dev/trestle/internal/models"
	"github.com/trestle-dev/trestle/internal/signature"
)

// Signature headers per the Slack signing protocol.
const (
	signatureHeader = "X-Slack-Signature"
	timestampHeader = "X-Slack-Request-Timestamp"
)

// slackClient abstracts the Slack Web API methods we use, enabling test
// mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	AddReactionContext(ctx context.Context, name string, item slackapi.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slackapi.ItemRef) error
}

// Adapter implements bridge.Adapter for Slack.
type Adapter struct {
	client        slackClient
	signingSecret string
	botUserID     string
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	SigningSecret string
	BotToken      string // xoxb-... Slack bot token
	BotUserID     string // used to drop the bot's own messages
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.SigningSecret == "" {
		return nil, fmt.Errorf("slack: signing secret is required")
	}
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Adapter{
		client:        client,
		signingSecret: opts.SigningSecret,
		botUserID:     opts.BotUserID,
	}, nil
}

// Platform returns "slack".
func (a *Adapter) Platform() string { return "slack" }

// VerifyRequest checks the v0 signature over "v0:timestamp:body".
func (a *Adapter) VerifyRequest(r *http.Request, body []byte) bool {
	return signature.VerifySlack(body,
		r.Header.Get(timestampHeader),
		r.Header.Get(signatureHeader),
		[]byte(a.signingSecret))
}

// ParseRequest normalizes a verified Events API payload. URL verification
// handshakes become challenge events; everything the bot should not act on
// (its own messages, edits, unthreaded chatter without a mention) parses
// as an ignore event rather than an error.
func (a *Adapter) ParseRequest(r *http.Request, body []byte) (*bridge.Event, error) {
	outer, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, fmt.Errorf("slack: parse event: %w", err)
	}

	switch outer.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			return nil, fmt.Errorf("slack: parse challenge: %w", err)
		}
		return &bridge.Event{
			Platform:  a.Platform(),
			Kind:      bridge.EventChallenge,
			Challenge: challenge.Challenge,
		}, nil

	case slackevents.CallbackEvent:
		eventID := ""
		if cb, ok := outer.Data.(*slackevents.EventsAPICallbackEvent); ok {
			eventID = cb.EventID
		}
		return a.parseCallback(outer.InnerEvent, eventID)

	default:
		return nil, fmt.Errorf("slack: unknown payload type %q", outer.Type)
	}
}

// parseCallback handles the inner event of a callback envelope.
func (a *Adapter) parseCallback(inner slackevents.EventsAPIInnerEvent, eventID string) (*bridge.Event, error) {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.User == a.botUserID || ev.BotID != "" {
			return a.ignore(eventID), nil
		}
		threadTS := ev.ThreadTimeStamp
		kind := bridge.EventNewConversation
		if threadTS == "" {
			threadTS = ev.TimeStamp
		} else {
			// Mention inside an existing thread continues it.
			kind = bridge.EventFollowUp
		}
		return a.messageEvent(kind, eventID, ev.Channel, threadTS, ev.TimeStamp, ev.User, ev.Text), nil

	case *slackevents.MessageEvent:
		if ev.User == a.botUserID || ev.BotID != "" || ev.SubType != "" {
			return a.ignore(eventID), nil
		}
		if ev.ThreadTimeStamp == "" {
			// Unthreaded channel chatter without a mention is not for us.
			return a.ignore(eventID), nil
		}
		threadEv := a.messageEvent(bridge.EventFollowUp, eventID, ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.User, ev.Text)
		// A plain thread reply continues a session but never starts one;
		// starting takes an explicit mention.
		threadEv.OnlyIfActive = true
		return threadEv, nil

	default:
		return a.ignore(eventID), nil
	}
}

// messageEvent builds a conversation event, reclassifying command text.
func (a *Adapter) messageEvent(kind bridge.EventKind, eventID, channel, threadTS, messageTS, user, rawText string) *bridge.Event {
	text := stripMentions(rawText)
	ev := &bridge.Event{
		Platform: a.Platform(),
		Kind:     kind,
		EventID:  eventID,
		Conversation: bridge.Conversation{
			Kind:      models.ConversationThread,
			Key:       channel + ":" + threadTS,
			ChannelID: channel,
			ThreadID:  threadTS,
		},
		Message: bridge.MessageRef{ChannelID: channel, MessageID: messageTS},
		UserID:  user,
		Text:    text,
	}
	bridge.ApplyCommand(ev, text)
	return ev
}

func (a *Adapter) ignore(eventID string) *bridge.Event {
	return &bridge.Event{Platform: a.Platform(), Kind: bridge.EventIgnore, EventID: eventID}
}

// PostMessage posts text into the thread.
func (a *Adapter) PostMessage(ctx context.Context, conv bridge.Conversation, text string) error {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if conv.ThreadID != "" {
		opts = append(opts, slackapi.MsgOptionTS(conv.ThreadID))
	}
	if _, _, err := a.client.PostMessageContext(ctx, conv.ChannelID, opts...); err != nil {
		return fmt.Errorf("slack: post to %s: %w", conv.ChannelID, err)
	}
	return nil
}

// AddReaction adds an emoji reaction to the message.
func (a *Adapter) AddReaction(ctx context.Context, ref bridge.MessageRef, name string) error {
	if err := a.client.AddReactionContext(ctx, name, slackapi.NewRefToMessage(ref.ChannelID, ref.MessageID)); err != nil {
		return fmt.Errorf("slack: add reaction %s: %w", name, err)
	}
	return nil
}

// RemoveReaction removes an emoji reaction from the message.
func (a *Adapter) RemoveReaction(ctx context.Context, ref bridge.MessageRef, name string) error {
	if err := a.client.RemoveReactionContext(ctx, name, slackapi.NewRefToMessage(ref.ChannelID, ref.MessageID)); err != nil {
		return fmt.Errorf("slack: remove reaction %s: %w", name, err)
	}
	return nil
}

// stripMentions removes leading <@U...> mention tokens from message text.
func stripMentions(text string) string {
	s := strings.TrimSpace(text)
	for strings.HasPrefix(s, "<@") {
		end := strings.IndexByte(s, '>')
		if end < 0 {
			break
		}
		s = strings.TrimSpace(s[end+1:])
	}
	return s
}
