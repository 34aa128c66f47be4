package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/channel/channeltest"
	"github.com/memohai/warden/internal/commands"
	"github.com/memohai/warden/internal/identity"
	"github.com/memohai/warden/internal/messages"
	"github.com/memohai/warden/internal/policy"
)

const (
	ownerAddr = "1000@user"
	adminAddr = "2000@user"
	userAddr  = "3000@user"
	group     = "g1@group"
)

type harness struct {
	router    *Router
	store     *policy.Store
	transport *channeltest.Transport
	calls     map[string]int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	catalog, err := messages.Default()
	require.NoError(t, err)

	h := &harness{
		store:     policy.NewStore(nil, nil),
		transport: channeltest.New(),
		calls:     map[string]int{},
	}
	registry := NewRegistry()
	count := func(name string) Handler {
		return func(ctx context.Context, c *Context) error {
			h.calls[name]++
			_, err := c.Reply(ctx, name+" ok")
			return err
		}
	}
	registry.MustRegister(Spec{Name: "menu", Handler: count("menu")})
	registry.MustRegister(Spec{Name: "register", Aliases: []string{"daftar"}, Handler: func(ctx context.Context, c *Context) error {
		h.calls["register"]++
		_, err := c.Policy.Register(ctx, c.Sender, c.DisplayName)
		return err
	}})
	registry.MustRegister(Spec{Name: "sticker", Access: commands.AccessRegistered, Handler: count("sticker")})
	registry.MustRegister(Spec{Name: "antilink", Access: commands.AccessGroupAdmin, Usage: "antilink on|off", Handler: func(ctx context.Context, c *Context) error {
		h.calls["antilink"]++
		switch c.Arg(0) {
		case "on":
			return c.Policy.SetGroupFlag(ctx, c.ChatID, policy.FlagAntilink, true)
		case "off":
			return c.Policy.SetGroupFlag(ctx, c.ChatID, policy.FlagAntilink, false)
		}
		return c.Usage("expected on or off")
	}})
	registry.MustRegister(Spec{Name: "broadcast", Access: commands.AccessOwner, Handler: func(ctx context.Context, c *Context) error {
		h.calls["broadcast"]++
		_, err := c.Reply(ctx, c.ArgText)
		return err
	}})
	registry.MustRegister(Spec{Name: "setprefix", Access: commands.AccessOwner, Handler: func(ctx context.Context, c *Context) error {
		if _, err := c.Prefix.Set(c.Arg(0)); err != nil {
			return c.Usage(err.Error())
		}
		return nil
	}})
	registry.MustRegister(Spec{Name: "boom", Handler: func(ctx context.Context, c *Context) error {
		panic("kaboom")
	}})
	registry.MustRegister(Spec{Name: "fail", Handler: func(ctx context.Context, c *Context) error {
		return errors.New("database on fire")
	}})

	services := &Services{
		Policy:   h.store,
		Identity: identity.NewResolver(nil, "+1000"),
		Prefix:   NewPrefix("."),
		Messages: catalog,
		Commands: registry,
		Settings: Settings{BotName: "Warden", Version: "test"},
	}
	h.router, err = NewRouter(nil, services, "")
	require.NoError(t, err)

	h.transport.SetRoster(group,
		channel.RosterMember{ID: adminAddr, IsAdmin: true},
		channel.RosterMember{ID: userAddr},
	)
	return h
}

func (h *harness) text(sender, chat, text string) Outcome {
	return h.router.HandleEvent(context.Background(), h.transport, channel.TextMessage{
		Sender:  sender,
		ChatID:  chat,
		IsGroup: identity.IsGroupChat(chat),
		Text:    text,
	})
}

func (h *harness) register(t *testing.T, addr string) {
	t.Helper()
	_, err := h.store.Register(context.Background(), identity.Canonicalize(addr), "tester")
	require.NoError(t, err)
}

func TestPlainTextIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	assert.Equal(t, OutcomeIgnored, h.text(userAddr, group, "hello there"))
	assert.Empty(t, h.transport.Sent())
}

func TestGatingRejectsUnregisteredSender(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, text := range []string{".sticker", ".antilink on", ".doesnotexist"} {
		h.transport.Reset()
		assert.Equal(t, OutcomeNotRegistered, h.text(userAddr, group, text), text)
		sent := h.transport.Sent()
		require.Len(t, sent, 1)
		require.NotNil(t, sent[0].Interactive)
		assert.Equal(t, ".register", sent[0].Interactive.Buttons[0].ID)
	}
	assert.Zero(t, h.calls["sticker"])
	assert.Zero(t, h.calls["antilink"])
}

func TestAllowListBypassesGate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	assert.Equal(t, OutcomeDispatched, h.text(userAddr, "3000@user", ".MENU"))
	assert.Equal(t, OutcomeDispatched, h.text(userAddr, "3000@user", ".daftar"))
	assert.Equal(t, 1, h.calls["menu"])
	assert.True(t, h.store.IsRegistered("3000"))
}

func TestOwnerBypassesGate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	assert.Equal(t, OutcomeDispatched, h.text(ownerAddr, "1000@user", ".broadcast Hello  World"))
	last, _ := h.transport.Last()
	assert.Equal(t, "Hello  World", last.Text, "argument text keeps its spacing")
}

func TestNotFoundNamesCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.register(t, userAddr)
	assert.Equal(t, OutcomeNotFound, h.text(userAddr, group, ".dance now"))
	last, _ := h.transport.Last()
	assert.Contains(t, last.Text, ".dance")
	require.NotNil(t, last.Interactive)
	assert.Equal(t, ".menu", last.Interactive.Buttons[0].ID)
}

func TestAccessLevels(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.register(t, userAddr)
	h.register(t, adminAddr)

	assert.Equal(t, OutcomeDenied, h.text(adminAddr, "2000@user", ".antilink on"), "group-only outside a group")
	assert.Equal(t, OutcomeDenied, h.text(userAddr, group, ".antilink on"), "non-admin")
	assert.Equal(t, OutcomeDispatched, h.text(adminAddr, group, ".antilink on"))
	assert.True(t, h.store.GroupSettings(group).AntilinkEnabled())

	assert.Equal(t, OutcomeDenied, h.text(adminAddr, group, ".broadcast hi"))
	last, _ := h.transport.Last()
	assert.Contains(t, strings.ToLower(last.Text), "owner")
	assert.Zero(t, h.calls["broadcast"])
}

func TestRosterFailureDeniesAdmin(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.register(t, adminAddr)
	h.transport.RosterErr = errors.New("timeout")
	assert.Equal(t, OutcomeDenied, h.text(adminAddr, group, ".antilink on"))
}

func TestUsageError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.register(t, adminAddr)
	assert.Equal(t, OutcomeInvalid, h.text(adminAddr, group, ".antilink maybe"))
	last, _ := h.transport.Last()
	assert.Contains(t, last.Text, ".antilink on|off")
}

func TestHandlerErrorsAreReported(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.register(t, userAddr)
	assert.Equal(t, OutcomeHandlerError, h.text(userAddr, group, ".fail"))
	last, _ := h.transport.Last()
	assert.Contains(t, last.Text, "database on fire")

	assert.Equal(t, OutcomeHandlerError, h.text(userAddr, group, ".boom"))
	last, _ = h.transport.Last()
	assert.Contains(t, last.Text, "kaboom")
}

func TestAntilinkModeration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.store.SetGroupFlag(context.Background(), group, policy.FlagAntilink, true))

	assert.Equal(t, OutcomeModerated, h.text(userAddr, group, "visit https://spam.example now"))
	sent := h.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{userAddr}, sent[0].Mentions)
	removals := h.transport.Memberships()
	require.Len(t, removals, 1)
	assert.Equal(t, channeltest.Membership{ChatID: group, Participant: userAddr, Action: channel.MembershipRemove}, removals[0])

	h.transport.Reset()
	assert.Equal(t, OutcomeIgnored, h.text(adminAddr, group, "see https://docs.example"))
	assert.Empty(t, h.transport.Sent())
	assert.Empty(t, h.transport.Memberships())
}

func TestAntilinkSkipsCommandsAndDisabledGroups(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	assert.Equal(t, OutcomeIgnored, h.text(userAddr, group, "https://a.example"), "antilink defaults to off")

	require.NoError(t, h.store.SetGroupFlag(context.Background(), group, policy.FlagAntilink, true))
	h.register(t, userAddr)
	assert.Equal(t, OutcomeDispatched, h.text(userAddr, group, ".menu https://a.example"))
	assert.Empty(t, h.transport.Memberships())
	assert.Equal(t, OutcomeIgnored, h.text(userAddr, "3000@user", "https://a.example"), "direct chats are never moderated")
}

func TestMembershipGreetings(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.transport.SendErr = func(chatID string) error { return nil }
	out := h.router.HandleEvent(context.Background(), h.transport, channel.MembershipChange{
		ChatID:       group,
		Participants: []string{"1@user", "2@user"},
		Action:       channel.MembershipAdd,
	})
	assert.Equal(t, OutcomeGreeted, out)
	sent := h.transport.Sent()
	require.Len(t, sent, 2)
	require.NotNil(t, sent[0].Interactive)
	assert.Len(t, sent[0].Interactive.Buttons, 3)
	assert.Equal(t, []string{"2@user"}, sent[1].Mentions)

	h.transport.Reset()
	require.NoError(t, h.store.SetGroupFlag(context.Background(), group, policy.FlagGoodbye, false))
	out = h.router.HandleEvent(context.Background(), h.transport, channel.MembershipChange{
		ChatID: group, Participants: []string{"1@user"}, Action: channel.MembershipRemove,
	})
	assert.Equal(t, OutcomeIgnored, out)
	assert.Empty(t, h.transport.Sent())
}

func TestMembershipWelcomeDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.store.SetGroupFlag(context.Background(), group, policy.FlagWelcome, false))
	out := h.router.HandleEvent(context.Background(), h.transport, channel.MembershipChange{
		ChatID: group, Participants: []string{"1@user", "2@user"}, Action: channel.MembershipAdd,
	})
	assert.Equal(t, OutcomeIgnored, out)
	assert.Empty(t, h.transport.Sent())

	out = h.router.HandleEvent(context.Background(), h.transport, channel.MembershipChange{
		ChatID: group, Participants: []string{"1@user"}, Action: channel.MembershipRemove,
	})
	assert.Equal(t, OutcomeGreeted, out)
	assert.Len(t, h.transport.Sent(), 1)
}

func TestGreetingFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	calls := 0
	h.transport.SendErr = func(string) error {
		calls++
		if calls == 1 {
			return errors.New("rate limited")
		}
		return nil
	}
	h.router.HandleEvent(context.Background(), h.transport, channel.MembershipChange{
		ChatID: group, Participants: []string{"a@user", "b@user", "c@user"}, Action: channel.MembershipRemove,
	})
	assert.Len(t, h.transport.Sent(), 3)
}

func TestButtonTapMatchesText(t *testing.T) {
	t.Parallel()

	viaText := newHarness(t)
	viaText.text(userAddr, group, ".menu")
	textSent, _ := viaText.transport.Last()

	viaButton := newHarness(t)
	out := viaButton.router.HandleEvent(context.Background(), viaButton.transport, channel.ButtonTap{
		Sender: userAddr, ChatID: group, SelectedID: ".menu",
	})
	assert.Equal(t, OutcomeDispatched, out)
	buttonSent, _ := viaButton.transport.Last()
	assert.Equal(t, textSent.Text, buttonSent.Text)
	assert.Equal(t, textSent.ChatID, buttonSent.ChatID)
}

func TestButtonWithExternalIDIsNotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.register(t, userAddr)
	out := h.router.HandleEvent(context.Background(), h.transport, channel.ButtonTap{
		Sender: userAddr, ChatID: group, SelectedID: "https://github.com/example",
	})
	assert.Equal(t, OutcomeNotFound, out)
	assert.Len(t, h.transport.Sent(), 1)
}

func TestSetPrefixScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.register(t, userAddr)
	assert.Equal(t, OutcomeDispatched, h.text(ownerAddr, "1000@user", ".setprefix !"))
	assert.Equal(t, "!", h.router.Services().Prefix.Get())

	h.transport.Reset()
	assert.Equal(t, OutcomeIgnored, h.text(userAddr, group, ".menu"))
	assert.Empty(t, h.transport.Sent())
	assert.Equal(t, OutcomeDispatched, h.text(userAddr, group, "!menu"))
	assert.Equal(t, 1, h.calls["menu"])

	assert.Equal(t, OutcomeInvalid, h.text(ownerAddr, "1000@user", "!setprefix abc"))
	assert.Equal(t, "!", h.router.Services().Prefix.Get())
}

func TestExactlyOneResponsePerRejection(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.register(t, userAddr)
	for _, text := range []string{".nope", ".antilink on", ".broadcast x", ".fail"} {
		h.transport.Reset()
		h.text(userAddr, group, text)
		assert.Len(t, h.transport.Sent(), 1, text)
	}
}

func TestNewRouterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRouter(nil, &Services{}, "")
	assert.Error(t, err)

	h := newHarness(t)
	_, err = NewRouter(nil, h.router.Services(), "([")
	assert.Error(t, err)
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	name, args, rest := splitCommand("Broadcast  Line one\nLine Two")
	assert.Equal(t, "broadcast", name)
	assert.Equal(t, []string{"Line", "one", "Line", "Two"}, args)
	assert.Equal(t, "Line one\nLine Two", rest)

	name, args, rest = splitCommand("   ")
	assert.Empty(t, name)
	assert.Empty(t, args)
	assert.Empty(t, rest)
}

func TestValidatePrefix(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{".", "!", "#!", "é"} {
		assert.NoError(t, ValidatePrefix(ok), ok)
	}
	for _, bad := range []string{"", "abc", " ", "a b"} {
		assert.Error(t, ValidatePrefix(bad), bad)
	}
}
