// Package messaging is the boundary to the chat platform hosting the groups: membership lookups
// and outbound messages. Every call is best-effort; failures surface as ErrUnavailable and are
// never shown to end users.
package messaging

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrUnavailable reports that the platform could not answer in time or at all.
var ErrUnavailable = errors.New("messaging platform unavailable")

// Action is a tappable button whose Data is posted back to /callback when pressed.
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Message is the rich content sent to a group or user.
type Message struct {
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
}

// Platform is implemented by adapters over the messaging platform.
type Platform interface {
	// GetMemberCount returns the number of human members of the group, bot excluded.
	GetMemberCount(ctx context.Context, groupID string) (int, error)
	// GetMemberIDs lists member IDs. The list may include the bot itself.
	GetMemberIDs(ctx context.Context, groupID string) ([]string, error)
	SendConfirmationPrompt(ctx context.Context, groupID, text string, yes, no Action) error
	SendMessage(ctx context.Context, target string, msg Message) error
}

// LogPlatform is used when no platform endpoint is configured. Membership is always
// unavailable and outbound messages are only logged.
type LogPlatform struct {
	Logger *zap.Logger
}

var _ Platform = (*LogPlatform)(nil)

func (p *LogPlatform) GetMemberCount(context.Context, string) (int, error) {
	return 0, ErrUnavailable
}

func (p *LogPlatform) GetMemberIDs(context.Context, string) ([]string, error) {
	return nil, ErrUnavailable
}

func (p *LogPlatform) SendConfirmationPrompt(ctx context.Context, groupID, text string, yes, no Action) error {
	return p.SendMessage(ctx, groupID, Message{Text: text, Actions: []Action{yes, no}})
}

func (p *LogPlatform) SendMessage(_ context.Context, target string, msg Message) error {
	p.Logger.Info("Outbound message",
		zap.String("target", target),
		zap.String("text", msg.Text),
		zap.Int("actions", len(msg.Actions)))
	return nil
}
