package bot

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/commands"
	"github.com/memohai/warden/internal/identity"
	"github.com/memohai/warden/internal/messages"
	"github.com/memohai/warden/internal/policy"
)

// Handler is the signature of every command action.
type Handler = commands.Handler[*Context]

// Spec is a command spec bound to the router's context type.
type Spec = commands.Spec[*Context]

// Registry is the command registry bound to the router's context type.
type Registry = commands.Registry[*Context]

// NewRegistry creates a registry with the default allow-list.
func NewRegistry() *Registry {
	return commands.NewRegistry[*Context](commands.DefaultAllowList)
}

// Settings are the static presentation values shared by every reply.
type Settings struct {
	BotName string
	Version string
}

// Services are the long-lived dependencies the router hands to handlers.
type Services struct {
	Policy   *policy.Store
	Identity *identity.Resolver
	Prefix   *Prefix
	Messages *messages.Catalog
	Commands *Registry
	Settings Settings
}

// Context is built by the router for one command invocation.
type Context struct {
	*Services

	Transport     channel.Transport
	Logger        *slog.Logger
	EventID       string
	ChatID        string
	IsGroup       bool
	SenderAddress string
	Sender        string
	DisplayName   string
	Command       string
	Args          []string
	// ArgText is everything after the command token with original spacing.
	ArgText string
	Quoted  *channel.QuotedMessage
	Spec    *Spec
}

// Arg returns the i-th argument or "".
func (c *Context) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Usage returns a ValidationError carrying the command's usage line.
func (c *Context) Usage(reason string) error {
	usage := c.Command
	if c.Spec != nil && c.Spec.Usage != "" {
		usage = c.Spec.Usage
	}
	return &ValidationError{Usage: usage, Reason: reason}
}

// Data merges the common template fields with extra.
func (c *Context) Data(extra map[string]any) map[string]any {
	data := map[string]any{
		"BotName": c.Settings.BotName,
		"Version": c.Settings.Version,
		"Prefix":  c.Prefix.Get(),
		"Name":    c.DisplayName,
		"Command": c.Command,
		"Handle":  identity.Canonicalize(c.SenderAddress),
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// T renders a catalog message with the common fields plus extra.
func (c *Context) T(key string, extra map[string]any) string {
	return c.Messages.Text(key, c.Data(extra))
}

// Footer renders the footer attached to interactive replies.
func (c *Context) Footer() string {
	return c.Messages.Text("footer", c.Data(nil))
}

// CommandButton builds a reply button that runs command when tapped.
func (c *Context) CommandButton(labelKey, command string) channel.Button {
	return commandButton(c.Messages, c.Prefix.Get(), labelKey, command)
}

// Reply sends text to the invoking chat.
func (c *Context) Reply(ctx context.Context, text string) (channel.MessageRef, error) {
	ref, err := c.Transport.SendText(ctx, c.ChatID, text, nil, nil)
	return ref, transportErr("send_text", err)
}

// ReplyMentions sends text that mentions the given participant addresses.
func (c *Context) ReplyMentions(ctx context.Context, text string, mentions []string) (channel.MessageRef, error) {
	ref, err := c.Transport.SendText(ctx, c.ChatID, text, mentions, nil)
	return ref, transportErr("send_text", err)
}

// Edit replaces the text of a message sent earlier.
func (c *Context) Edit(ctx context.Context, ref channel.MessageRef, text string) error {
	_, err := c.Transport.SendText(ctx, c.ChatID, text, nil, &ref)
	return transportErr("edit_text", err)
}

// ReplyInteractive sends text with buttons and the standard footer.
func (c *Context) ReplyInteractive(ctx context.Context, text string, buttons ...channel.Button) (channel.MessageRef, error) {
	ref, err := c.Transport.SendInteractive(ctx, c.ChatID, channel.Interactive{
		Text:    text,
		Footer:  c.Footer(),
		Buttons: buttons,
	})
	return ref, transportErr("send_interactive", err)
}

// Roster returns the participants of the invoking group.
func (c *Context) Roster(ctx context.Context) ([]channel.RosterMember, error) {
	members, err := c.Transport.GroupRoster(ctx, c.ChatID)
	return members, transportErr("group_roster", err)
}

// IsOwner reports whether the sender is the configured owner.
func (c *Context) IsOwner() bool {
	return c.Identity.IsOwner(c.Sender)
}

func commandButton(catalog *messages.Catalog, prefix, labelKey, command string) channel.Button {
	return channel.Button{
		ID:    prefix + command,
		Label: catalog.Text(labelKey, nil),
		Kind:  channel.ButtonReply,
	}
}

func rosterFunc(t channel.Transport) identity.RosterFunc {
	return func(ctx context.Context, chatID string) ([]identity.Member, error) {
		members, err := t.GroupRoster(ctx, chatID)
		if err != nil {
			return nil, err
		}
		return lo.Map(members, func(m channel.RosterMember, _ int) identity.Member {
			return identity.Member{ID: m.ID, IsAdmin: m.IsAdmin}
		}), nil
	}
}

func splitCommand(body string) (name string, args []string, argText string) {
	trimmed := strings.TrimLeftFunc(body, unicode.IsSpace)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, ""
	}
	name = strings.ToLower(fields[0])
	argText = strings.TrimSpace(trimmed[len(fields[0]):])
	return name, fields[1:], argText
}
