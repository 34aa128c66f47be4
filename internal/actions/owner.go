package actions

import (
	"context"
	"log/slog"

	"github.com/memohai/warden/internal/bot"
)

func (a *Actions) broadcastAll(ctx context.Context, c *bot.Context) error {
	if c.ArgText == "" {
		return c.Usage("text is required")
	}
	if a.broadcast == nil {
		return bot.ErrNotConfigured
	}
	total := len(a.broadcast.Recipients())
	if _, err := c.Reply(ctx, c.T("broadcast_start", map[string]any{"Total": total})); err != nil {
		return err
	}
	summary := a.broadcast.Broadcast(ctx, c.Transport, c.T("broadcast_message", map[string]any{"Text": c.ArgText}))
	_, err := c.Reply(ctx, c.T("broadcast_summary", map[string]any{
		"Success": summary.Success,
		"Failure": summary.Failure,
		"Total":   summary.Total,
	}))
	return err
}

func (a *Actions) restart(ctx context.Context, c *bot.Context) error {
	if a.restarter == nil {
		return bot.ErrNotConfigured
	}
	if _, err := c.Reply(ctx, c.T("restart", map[string]any{"Delay": a.cfg.RestartDelay.String()})); err != nil {
		return err
	}
	a.logger.Info("restart requested", slog.String("by", c.Sender), slog.Duration("delay", a.cfg.RestartDelay))
	a.restarter.ScheduleRestart(a.cfg.RestartDelay)
	return nil
}

func (a *Actions) setPrefix(ctx context.Context, c *bot.Context) error {
	if len(c.Args) != 1 {
		return c.Usage("")
	}
	old, err := c.Prefix.Set(c.Args[0])
	if err != nil {
		return c.Usage(err.Error())
	}
	a.logger.Info("prefix changed", slog.String("old", old), slog.String("new", c.Args[0]))
	_, err = c.Reply(ctx, c.T("setprefix_ok", map[string]any{"Old": old, "New": c.Args[0], "Prefix": c.Args[0]}))
	return err
}
