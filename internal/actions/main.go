package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/warden/internal/bot"
	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/commands"
	"github.com/memohai/warden/internal/identity"
	"github.com/memohai/warden/internal/policy"
)

type menuEntry struct {
	Name        string
	Description string
}

type menuSection struct {
	Title    string
	Commands []menuEntry
}

func entries(specs []*bot.Spec) []menuEntry {
	out := make([]menuEntry, 0, len(specs))
	for _, s := range specs {
		out = append(out, menuEntry{Name: s.Name, Description: s.Description})
	}
	return out
}

func (a *Actions) menu(ctx context.Context, c *bot.Context) error {
	text := c.T("menu", map[string]any{
		"Commands": entries(c.Commands.ByCategory(commands.CategoryMain)),
	})
	buttons := []channel.Button{
		c.CommandButton("button_allmenu", "allmenu"),
		c.CommandButton("button_profile", "profile"),
	}
	if a.cfg.GithubURL != "" {
		buttons = append(buttons, channel.Button{
			ID:    a.cfg.GithubURL,
			Label: c.Messages.Text("button_github", nil),
			Kind:  channel.ButtonExternal,
		})
	}
	_, err := c.ReplyInteractive(ctx, text, buttons...)
	return err
}

func (a *Actions) allMenu(ctx context.Context, c *bot.Context) error {
	sections := []menuSection{
		{Title: "Main", Commands: entries(c.Commands.ByCategory(commands.CategoryMain))},
		{Title: "Group", Commands: entries(c.Commands.ByCategory(commands.CategoryGroup))},
	}
	if c.IsOwner() {
		sections = append(sections, menuSection{Title: "Owner", Commands: entries(c.Commands.ByCategory(commands.CategoryOwner))})
	}
	_, err := c.Reply(ctx, c.T("allmenu", map[string]any{"Sections": sections}))
	return err
}

func (a *Actions) info(ctx context.Context, c *bot.Context) error {
	stats := c.Policy.Stats()
	memory, cpu := "n/a", "n/a"
	if rss, pct, err := a.stats(); err == nil {
		memory = formatBytes(rss)
		cpu = fmt.Sprintf("%.1f%%", pct)
	} else {
		c.Logger.Debug("process stats unavailable", slog.Any("error", err))
	}
	owner := a.cfg.OwnerName
	if owner == "" {
		owner = c.Identity.Owner()
	}
	_, err := c.Reply(ctx, c.T("info", map[string]any{
		"Owner":      owner,
		"Channel":    a.cfg.Channel,
		"Registered": stats.Registered,
		"Groups":     stats.Groups,
		"Uptime":     a.now().Sub(a.startedAt).Truncate(time.Second).String(),
		"Memory":     memory,
		"CPU":        cpu,
	}))
	return err
}

func (a *Actions) ping(ctx context.Context, c *bot.Context) error {
	start := a.now()
	ref, err := c.Reply(ctx, c.T("ping_pending", nil))
	if err != nil {
		return err
	}
	latency := a.now().Sub(start)
	result := c.T("ping_result", map[string]any{"Latency": latency.Round(time.Millisecond).String()})
	if err := c.Edit(ctx, ref, result); err != nil {
		if !errors.Is(err, channel.ErrUnsupported) {
			c.Logger.Debug("ping edit failed, sending new message", slog.Any("error", err))
		}
		_, err = c.Reply(ctx, result)
		return err
	}
	return nil
}

func (a *Actions) profile(ctx context.Context, c *bot.Context) error {
	rec, ok := c.Policy.User(c.Sender)
	if !ok {
		_, err := c.ReplyInteractive(ctx, c.T("profile_unregistered", nil),
			c.CommandButton("button_register", "register"),
			c.CommandButton("button_rules", "rules"),
		)
		return err
	}
	_, err := c.ReplyInteractive(ctx, c.T("profile_registered", map[string]any{
		"Name":  rec.Name,
		"Level": rec.Level,
		"Warns": rec.Warns,
		"Date":  formatDate(rec.RegistrationDate),
	}), c.CommandButton("button_menu", "menu"))
	return err
}

func (a *Actions) register(ctx context.Context, c *bot.Context) error {
	rec, err := c.Policy.Register(ctx, c.Sender, c.DisplayName)
	if errors.Is(err, policy.ErrAlreadyRegistered) {
		_, err = c.ReplyInteractive(ctx, c.T("register_exists", nil), c.CommandButton("button_menu", "menu"))
		return err
	}
	if err != nil {
		return err
	}
	c.Logger.Info("user registered", slog.String("id", c.Sender))
	_, err = c.ReplyInteractive(ctx, c.T("register_ok", map[string]any{
		"Name": rec.Name,
		"Date": formatDate(rec.RegistrationDate),
	}),
		c.CommandButton("button_menu", "menu"),
		c.CommandButton("button_profile", "profile"),
	)
	return err
}

func (a *Actions) rules(ctx context.Context, c *bot.Context) error {
	buttons := []channel.Button{c.CommandButton("button_menu", "menu")}
	if !c.Policy.IsRegistered(c.Sender) {
		buttons = append([]channel.Button{c.CommandButton("button_register", "register")}, buttons...)
	}
	_, err := c.ReplyInteractive(ctx, c.T("rules", nil), buttons...)
	return err
}

func (a *Actions) donate(ctx context.Context, c *bot.Context) error {
	buttons := append(linkButtons(a.cfg.DonationLinks), c.CommandButton("button_owner", "owner"))
	_, err := c.ReplyInteractive(ctx, c.T("donate", map[string]any{"Links": linkData(a.cfg.DonationLinks)}), buttons...)
	return err
}

func (a *Actions) ownerInfo(ctx context.Context, c *bot.Context) error {
	owner := a.cfg.OwnerName
	if owner == "" {
		owner = identity.Canonicalize(c.Identity.Owner())
	}
	buttons := append(linkButtons(a.cfg.OwnerContact), c.CommandButton("button_menu", "menu"))
	_, err := c.ReplyInteractive(ctx, c.T("owner", map[string]any{
		"Owner": owner,
		"Links": linkData(a.cfg.OwnerContact),
	}), buttons...)
	return err
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
