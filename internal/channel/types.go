// Package channel provides the transport abstraction the bot core talks to:
// the inbound event union, the outbound capability surface, an adapter
// registry and a manager that feeds events to the core one at a time.
package channel

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnsupported is returned by a transport for an operation its platform
// cannot perform.
var ErrUnsupported = errors.New("operation not supported by channel")

// ChannelType identifies a messaging platform (e.g., "telegram", "discord").
type ChannelType string

const (
	TypeTelegram ChannelType = "telegram"
	TypeDiscord  ChannelType = "discord"
	TypeLocal    ChannelType = "local"
)

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

func normalizeChannelType(raw string) ChannelType {
	return ChannelType(strings.ToLower(strings.TrimSpace(raw)))
}

// InboundEvent is one of TextMessage, MembershipChange or ButtonTap.
type InboundEvent interface {
	Kind() EventKind
}

// EventKind tags the concrete inbound event type.
type EventKind string

const (
	EventText       EventKind = "text"
	EventMembership EventKind = "membership"
	EventButton     EventKind = "button"
)

// MessageRef points at a message that was sent or received.
type MessageRef struct {
	ChatID string `json:"chat_id"`
	ID     string `json:"id"`
}

// IsZero reports whether the ref is empty.
func (r MessageRef) IsZero() bool {
	return strings.TrimSpace(r.ID) == ""
}

// QuotedMessage is the message a text replies to.
type QuotedMessage struct {
	Ref    MessageRef `json:"ref"`
	Author string     `json:"author,omitempty"`
}

// TextMessage is a plain text message from a participant.
type TextMessage struct {
	Sender     string         `json:"sender"`
	SenderName string         `json:"sender_name,omitempty"`
	ChatID     string         `json:"chat_id"`
	IsGroup    bool           `json:"is_group"`
	Text       string         `json:"text"`
	Quoted     *QuotedMessage `json:"quoted,omitempty"`
}

func (TextMessage) Kind() EventKind { return EventText }

// MembershipAction is the direction of a membership change.
type MembershipAction string

const (
	MembershipAdd    MembershipAction = "add"
	MembershipRemove MembershipAction = "remove"
)

// MembershipChange reports participants joining or leaving a group.
type MembershipChange struct {
	ChatID       string           `json:"chat_id"`
	Participants []string         `json:"participants"`
	Action       MembershipAction `json:"action"`
}

func (MembershipChange) Kind() EventKind { return EventMembership }

// ButtonTap reports a tap on an interactive reply button.
type ButtonTap struct {
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name,omitempty"`
	ChatID     string `json:"chat_id"`
	SelectedID string `json:"selected_id"`
}

func (ButtonTap) Kind() EventKind { return EventButton }

// Envelope wraps an inbound event with delivery metadata.
type Envelope struct {
	ID         string
	Channel    ChannelType
	Event      InboundEvent
	ReceivedAt time.Time
}

// ButtonKind distinguishes command buttons from external links.
type ButtonKind string

const (
	ButtonReply    ButtonKind = "reply"
	ButtonExternal ButtonKind = "external"
)

// Button is one interactive shortcut. For ButtonReply the ID is the command
// text sent back on tap; for ButtonExternal the ID is a URL.
type Button struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  ButtonKind `json:"kind"`
}

// Interactive is a text message with a footer and buttons.
type Interactive struct {
	Text     string   `json:"text"`
	Footer   string   `json:"footer,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
}

// RosterMember is one participant of a group.
type RosterMember struct {
	ID      string `json:"id"`
	IsAdmin bool   `json:"is_admin"`
}

// Transport is the outbound capability surface the bot core uses.
type Transport interface {
	// SendText sends text to chatID. When edit is non-nil the referenced
	// message is edited instead.
	SendText(ctx context.Context, chatID, text string, mentions []string, edit *MessageRef) (MessageRef, error)
	SendInteractive(ctx context.Context, chatID string, msg Interactive) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
	GroupRoster(ctx context.Context, chatID string) ([]RosterMember, error)
	SetGroupMembership(ctx context.Context, chatID, participantID string, action MembershipAction) error
	SetGroupAnnounceOnly(ctx context.Context, chatID string, enabled bool) error
}
