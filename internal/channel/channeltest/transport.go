// Package channeltest provides an in-memory channel.Transport that records
// every call, for tests of code that talks to a chat platform.
package channeltest

import (
	"context"
	"strconv"
	"sync"

	"github.com/memohai/warden/internal/channel"
)

// Sent is one recorded outbound message.
type Sent struct {
	ChatID      string
	Text        string
	Mentions    []string
	Edit        *channel.MessageRef
	Interactive *channel.Interactive
	Ref         channel.MessageRef
}

// Membership is one recorded membership mutation.
type Membership struct {
	ChatID      string
	Participant string
	Action      channel.MembershipAction
}

// Transport records calls and serves rosters from memory.
type Transport struct {
	mu sync.Mutex

	Rosters   map[string][]channel.RosterMember
	RosterErr error
	// SendErr, when set, decides per chat whether a send fails.
	SendErr func(chatID string) error

	sent        []Sent
	deleted     []channel.MessageRef
	memberships []Membership
	announce    map[string]bool
	nextID      int
}

// New creates an empty Transport.
func New() *Transport {
	return &Transport{
		Rosters:  map[string][]channel.RosterMember{},
		announce: map[string]bool{},
	}
}

// SetRoster installs the roster of chatID.
func (t *Transport) SetRoster(chatID string, members ...channel.RosterMember) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Rosters[chatID] = members
}

func (t *Transport) SendText(ctx context.Context, chatID, text string, mentions []string, edit *channel.MessageRef) (channel.MessageRef, error) {
	return t.record(Sent{ChatID: chatID, Text: text, Mentions: mentions, Edit: edit})
}

func (t *Transport) SendInteractive(ctx context.Context, chatID string, msg channel.Interactive) (channel.MessageRef, error) {
	m := msg
	return t.record(Sent{ChatID: chatID, Text: msg.Text, Mentions: msg.Mentions, Interactive: &m})
}

func (t *Transport) record(s Sent) (channel.MessageRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		if err := t.SendErr(s.ChatID); err != nil {
			t.sent = append(t.sent, s)
			return channel.MessageRef{}, err
		}
	}
	if s.Edit != nil {
		s.Ref = *s.Edit
	} else {
		t.nextID++
		s.Ref = channel.MessageRef{ChatID: s.ChatID, ID: strconv.Itoa(t.nextID)}
	}
	t.sent = append(t.sent, s)
	return s.Ref, nil
}

func (t *Transport) DeleteMessage(ctx context.Context, ref channel.MessageRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = append(t.deleted, ref)
	return nil
}

func (t *Transport) GroupRoster(ctx context.Context, chatID string) ([]channel.RosterMember, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.RosterErr != nil {
		return nil, t.RosterErr
	}
	return append([]channel.RosterMember(nil), t.Rosters[chatID]...), nil
}

func (t *Transport) SetGroupMembership(ctx context.Context, chatID, participantID string, action channel.MembershipAction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memberships = append(t.memberships, Membership{ChatID: chatID, Participant: participantID, Action: action})
	return nil
}

func (t *Transport) SetGroupAnnounceOnly(ctx context.Context, chatID string, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.announce[chatID] = enabled
	return nil
}

// Sent returns all recorded sends, including failed attempts.
func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// Last returns the most recent send.
func (t *Transport) Last() (Sent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return Sent{}, false
	}
	return t.sent[len(t.sent)-1], true
}

// Deleted returns the deleted message refs.
func (t *Transport) Deleted() []channel.MessageRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]channel.MessageRef(nil), t.deleted...)
}

// Memberships returns the recorded membership mutations.
func (t *Transport) Memberships() []Membership {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Membership(nil), t.memberships...)
}

// AnnounceOnly reports the last announce-only value set for chatID.
func (t *Transport) AnnounceOnly(chatID string) (bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.announce[chatID]
	return v, ok
}

// Reset clears recorded calls.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
	t.deleted = nil
	t.memberships = nil
}

var _ channel.Transport = (*Transport)(nil)
