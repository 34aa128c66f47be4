package actions

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"

	"github.com/memohai/warden/internal/bot"
	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/identity"
	"github.com/memohai/warden/internal/policy"
)

// parseSwitch accepts exactly one of the two literal words.
func parseSwitch(c *bot.Context, on, off string) (bool, error) {
	if len(c.Args) != 1 {
		return false, c.Usage("")
	}
	switch strings.ToLower(c.Args[0]) {
	case on:
		return true, nil
	case off:
		return false, nil
	default:
		return false, c.Usage("unknown option " + c.Args[0])
	}
}

// toggle handles antilink, welcome and goodbye; the flag is the command name.
func (a *Actions) toggle(ctx context.Context, c *bot.Context) error {
	flag, err := policy.ParseFlag(c.Command)
	if err != nil {
		return err
	}
	enabled, err := parseSwitch(c, "on", "off")
	if err != nil {
		return err
	}
	if err := c.Policy.SetGroupFlag(ctx, c.ChatID, flag, enabled); err != nil {
		return err
	}
	_, err = c.Reply(ctx, c.T("flag_state", map[string]any{"Flag": string(flag), "Enabled": enabled}))
	return err
}

func (a *Actions) groupMode(ctx context.Context, c *bot.Context) error {
	open, err := parseSwitch(c, "open", "close")
	if err != nil {
		return err
	}
	if err := c.Transport.SetGroupAnnounceOnly(ctx, c.ChatID, !open); err != nil {
		return &bot.TransportError{Op: "set_group_announce_only", Err: err}
	}
	_, err = c.Reply(ctx, c.T("group_mode", map[string]any{"Closed": !open}))
	return err
}

func (a *Actions) tagAll(ctx context.Context, c *bot.Context) error {
	members, err := c.Roster(ctx)
	if err != nil {
		return err
	}
	text := c.ArgText
	if text == "" {
		text = c.T("tagall_default", nil)
	}
	ids := lo.Map(members, func(m channel.RosterMember, _ int) string { return m.ID })
	handles := lo.Map(ids, func(id string, _ int) string { return identity.Canonicalize(id) })
	_, err = c.ReplyMentions(ctx, c.T("tagall", map[string]any{"Text": text, "Handles": handles}), ids)
	return err
}

func (a *Actions) hideTag(ctx context.Context, c *bot.Context) error {
	if c.ArgText == "" {
		return c.Usage("text is required")
	}
	members, err := c.Roster(ctx)
	if err != nil {
		return err
	}
	ids := lo.Map(members, func(m channel.RosterMember, _ int) string { return m.ID })
	_, err = c.ReplyMentions(ctx, c.ArgText, ids)
	return err
}

func (a *Actions) deleteMessage(ctx context.Context, c *bot.Context) error {
	if c.Quoted == nil || c.Quoted.Ref.IsZero() {
		return c.Usage("reply to the message to delete")
	}
	ref := c.Quoted.Ref
	if ref.ChatID == "" {
		ref.ChatID = c.ChatID
	}
	if err := c.Transport.DeleteMessage(ctx, ref); err != nil {
		return &bot.TransportError{Op: "delete_message", Err: err}
	}
	return nil
}

func (a *Actions) warn(ctx context.Context, c *bot.Context) error {
	target := ""
	if c.Quoted != nil && c.Quoted.Author != "" {
		target = c.Quoted.Author
	} else if len(c.Args) > 0 {
		target = strings.TrimPrefix(c.Args[0], "@")
	}
	id := identity.Canonicalize(target)
	if id == "" {
		return c.Usage("no target")
	}
	count, err := c.Policy.IncrementWarning(ctx, id)
	if errors.Is(err, policy.ErrNotRegistered) {
		return c.Usage(id + " is not registered")
	}
	if err != nil {
		return err
	}
	_, err = c.ReplyMentions(ctx, c.T("warn_result", map[string]any{"Handle": id, "Warns": count}), []string{identity.UserAddress(id)})
	return err
}
