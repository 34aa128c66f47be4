// Package identity canonicalizes transport addresses and answers the
// ownership and group-admin questions the router asks about a sender.
package identity

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

const (
	// GroupDomain is the address domain of group chats.
	GroupDomain = "group"
	// UserDomain is the address domain of direct chats and participants.
	UserDomain = "user"
)

// Canonicalize reduces a transport address to its stable identity: the
// domain and any device suffix are stripped, so "123:4@user" becomes "123".
func Canonicalize(raw string) string {
	id := strings.TrimSpace(raw)
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	if colon := strings.IndexByte(id, ':'); colon >= 0 {
		id = id[:colon]
	}
	return id
}

// IsGroupChat reports whether chatID addresses a group conversation.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(strings.TrimSpace(chatID), "@"+GroupDomain)
}

// UserAddress builds the direct-chat address for a canonical identity.
func UserAddress(id string) string {
	return Canonicalize(id) + "@" + UserDomain
}

// GroupAddress builds the group-chat address for a platform chat handle.
func GroupAddress(handle string) string {
	return strings.TrimSpace(handle) + "@" + GroupDomain
}

var mentionPattern = regexp.MustCompile(`@([0-9A-Za-z_]+)`)

// RewriteMentions replaces each "@handle" token in text whose handle belongs
// to one of the mention addresses with render(handle). Tokens are matched
// whole, so "@123" is never rewritten as "@12" followed by "3".
func RewriteMentions(text string, mentions []string, render func(handle string) string) string {
	if len(mentions) == 0 {
		return text
	}
	wanted := make(map[string]struct{}, len(mentions))
	for _, m := range mentions {
		if handle := Canonicalize(m); handle != "" {
			wanted[handle] = struct{}{}
		}
	}
	return mentionPattern.ReplaceAllStringFunc(text, func(token string) string {
		if _, ok := wanted[token[1:]]; !ok {
			return token
		}
		return render(token[1:])
	})
}

// Member is one participant of a group roster.
type Member struct {
	ID      string
	IsAdmin bool
}

// RosterFunc fetches the current participants of a group chat.
type RosterFunc func(ctx context.Context, chatID string) ([]Member, error)

// Resolver answers ownership and admin questions for senders.
type Resolver struct {
	owner  string
	logger *slog.Logger
}

// NewResolver builds a Resolver for the configured owner identity.
func NewResolver(log *slog.Logger, owner string) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		owner:  normalizeOwner(owner),
		logger: log.With(slog.String("component", "identity")),
	}
}

// Owner returns the configured owner identity without a leading '+'.
func (r *Resolver) Owner() string {
	return r.owner
}

// IsOwner reports whether id matches the configured owner. The owner may be
// configured with or without a leading '+'.
func (r *Resolver) IsOwner(id string) bool {
	if r.owner == "" {
		return false
	}
	return normalizeOwner(Canonicalize(id)) == r.owner
}

// IsGroupAdmin reports whether id is an admin of groupID. Any roster failure
// is treated as "not an admin".
func (r *Resolver) IsGroupAdmin(ctx context.Context, groupID, id string, roster RosterFunc) bool {
	if roster == nil || !IsGroupChat(groupID) {
		return false
	}
	members, err := roster(ctx, groupID)
	if err != nil {
		r.logger.Warn("group roster lookup failed", slog.String("chat", groupID), slog.Any("error", err))
		return false
	}
	want := Canonicalize(id)
	for _, m := range members {
		if Canonicalize(m.ID) == want {
			return m.IsAdmin
		}
	}
	return false
}

func normalizeOwner(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "+")
}
