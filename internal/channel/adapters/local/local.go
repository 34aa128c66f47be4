// Package local implements an in-process transport driven over HTTP. It is
// used for development and smoke tests: inbound events are injected by the
// local channel routes and every outbound call is recorded in an outbox.
package local

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/warden/internal/channel"
)

// Type is the local channel type.
const Type = channel.TypeLocal

const (
	defaultOutboxLimit = 500
	subscriberBuffer   = 64
)

// ErrNotConnected is returned when events are injected before Connect.
var ErrNotConnected = errors.New("local channel is not connected")

// Entry kinds recorded in the outbox.
const (
	KindText         = "text"
	KindInteractive  = "interactive"
	KindDelete       = "delete"
	KindMembership   = "membership"
	KindAnnounceOnly = "announce_only"
)

// OutboxEntry is one recorded outbound call.
type OutboxEntry struct {
	Seq         int64                    `json:"seq"`
	Kind        string                   `json:"kind"`
	ChatID      string                   `json:"chat_id"`
	MessageID   string                   `json:"message_id,omitempty"`
	Edit        bool                     `json:"edit,omitempty"`
	Text        string                   `json:"text,omitempty"`
	Footer      string                   `json:"footer,omitempty"`
	Mentions    []string                 `json:"mentions,omitempty"`
	Buttons     []channel.Button         `json:"buttons,omitempty"`
	Participant string                   `json:"participant,omitempty"`
	Action      channel.MembershipAction `json:"action,omitempty"`
	Enabled     *bool                    `json:"enabled,omitempty"`
	At          time.Time                `json:"at"`
}

// LocalAdapter implements channel.Adapter, channel.Receiver and channel.Transport in memory.
type LocalAdapter struct {
	logger *slog.Logger
	limit  int

	mu          sync.RWMutex
	handler     channel.InboundHandler
	handlerCtx  context.Context
	seq         int64
	outbox      []OutboxEntry
	rosters     map[string][]channel.RosterMember
	subscribers map[string]chan OutboxEntry
}

// NewLocalAdapter creates a LocalAdapter keeping at most the last
// defaultOutboxLimit outbox entries.
func NewLocalAdapter(log *slog.Logger) *LocalAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &LocalAdapter{
		logger:      log.With(slog.String("adapter", "local")),
		limit:       defaultOutboxLimit,
		rosters:     map[string][]channel.RosterMember{},
		subscribers: map[string]chan OutboxEntry{},
	}
}

// Type returns the local channel type.
func (a *LocalAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the local channel metadata.
func (a *LocalAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Local",
		Capabilities: channel.Capabilities{
			Buttons:      true,
			Edit:         true,
			Delete:       true,
			Mentions:     true,
			AnnounceOnly: true,
		},
	}
}

// Connect stores handler as the target of injected events.
func (a *LocalAdapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	if handler == nil {
		return nil, errors.New("local channel requires a handler")
	}
	a.mu.Lock()
	a.handler = handler
	a.handlerCtx = context.WithoutCancel(ctx)
	a.mu.Unlock()
	a.logger.Info("start")

	stop := func(_ context.Context) error {
		a.logger.Info("stop")
		a.mu.Lock()
		a.handler = nil
		a.handlerCtx = nil
		a.mu.Unlock()
		return nil
	}
	return channel.NewConnection(Type, stop), nil
}

// Inject delivers an inbound event as if it arrived from a platform.
func (a *LocalAdapter) Inject(event channel.InboundEvent) error {
	if event == nil {
		return errors.New("event is required")
	}
	a.mu.RLock()
	handler, ctx := a.handler, a.handlerCtx
	a.mu.RUnlock()
	if handler == nil {
		return ErrNotConnected
	}
	return handler(ctx, event)
}

// SetRoster replaces the roster returned for chatID.
func (a *LocalAdapter) SetRoster(chatID string, members []channel.RosterMember) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rosters[strings.TrimSpace(chatID)] = append([]channel.RosterMember(nil), members...)
}

// Outbox returns the recorded entries with a sequence number above since.
func (a *LocalAdapter) Outbox(since int64) []OutboxEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]OutboxEntry, 0, len(a.outbox))
	for _, entry := range a.outbox {
		if entry.Seq > since {
			out = append(out, entry)
		}
	}
	return out
}

// Subscribe streams every new outbox entry until cancel is called. Slow
// subscribers miss entries rather than block the sender.
func (a *LocalAdapter) Subscribe() (<-chan OutboxEntry, func()) {
	id := uuid.NewString()
	ch := make(chan OutboxEntry, subscriberBuffer)
	a.mu.Lock()
	a.subscribers[id] = ch
	a.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subscribers, id)
			a.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (a *LocalAdapter) record(entry OutboxEntry) OutboxEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	entry.Seq = a.seq
	entry.At = time.Now().UTC()
	a.outbox = append(a.outbox, entry)
	if over := len(a.outbox) - a.limit; over > 0 {
		a.outbox = append([]OutboxEntry(nil), a.outbox[over:]...)
	}
	for id, ch := range a.subscribers {
		select {
		case ch <- entry:
		default:
			a.logger.Warn("subscriber lagging, entry dropped", slog.String("subscriber", id), slog.Int64("seq", entry.Seq))
		}
	}
	return entry
}

// SendText records a text message or an edit of an earlier one.
func (a *LocalAdapter) SendText(_ context.Context, chatID, text string, mentions []string, edit *channel.MessageRef) (channel.MessageRef, error) {
	ref := channel.MessageRef{ChatID: chatID, ID: uuid.NewString()}
	if edit != nil {
		ref = *edit
	}
	a.record(OutboxEntry{
		Kind:      KindText,
		ChatID:    chatID,
		MessageID: ref.ID,
		Edit:      edit != nil,
		Text:      text,
		Mentions:  append([]string(nil), mentions...),
	})
	return ref, nil
}

// SendInteractive records a message with buttons.
func (a *LocalAdapter) SendInteractive(_ context.Context, chatID string, msg channel.Interactive) (channel.MessageRef, error) {
	ref := channel.MessageRef{ChatID: chatID, ID: uuid.NewString()}
	a.record(OutboxEntry{
		Kind:      KindInteractive,
		ChatID:    chatID,
		MessageID: ref.ID,
		Text:      msg.Text,
		Footer:    msg.Footer,
		Mentions:  append([]string(nil), msg.Mentions...),
		Buttons:   append([]channel.Button(nil), msg.Buttons...),
	})
	return ref, nil
}

// DeleteMessage records a deletion.
func (a *LocalAdapter) DeleteMessage(_ context.Context, ref channel.MessageRef) error {
	a.record(OutboxEntry{Kind: KindDelete, ChatID: ref.ChatID, MessageID: ref.ID})
	return nil
}

// GroupRoster returns the roster set with SetRoster.
func (a *LocalAdapter) GroupRoster(_ context.Context, chatID string) ([]channel.RosterMember, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	members, ok := a.rosters[strings.TrimSpace(chatID)]
	if !ok {
		return nil, nil
	}
	return append([]channel.RosterMember(nil), members...), nil
}

// SetGroupMembership records the change and drops a removed participant
// from the stored roster.
func (a *LocalAdapter) SetGroupMembership(_ context.Context, chatID, participantID string, action channel.MembershipAction) error {
	a.record(OutboxEntry{Kind: KindMembership, ChatID: chatID, Participant: participantID, Action: action})
	if action != channel.MembershipRemove {
		return nil
	}
	key := strings.TrimSpace(chatID)
	a.mu.Lock()
	defer a.mu.Unlock()
	members := a.rosters[key]
	kept := members[:0]
	for _, m := range members {
		if m.ID != participantID {
			kept = append(kept, m)
		}
	}
	a.rosters[key] = kept
	return nil
}

// SetGroupAnnounceOnly records the mode change.
func (a *LocalAdapter) SetGroupAnnounceOnly(_ context.Context, chatID string, enabled bool) error {
	a.record(OutboxEntry{Kind: KindAnnounceOnly, ChatID: chatID, Enabled: &enabled})
	return nil
}
