// Package actions implements the built-in bot commands.
package actions

import (
	"context"
	"log/slog"
	"time"

	"github.com/memohai/warden/internal/bot"
	"github.com/memohai/warden/internal/broadcast"
	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/commands"
)

// Link is a labelled URL shown in owner and donation replies.
type Link struct {
	Label string
	URL   string
}

// Config carries the presentation values the handlers need.
type Config struct {
	Channel       string
	OwnerName     string
	GithubURL     string
	OwnerContact  []Link
	DonationLinks []Link
	RestartDelay  time.Duration
}

// Restarter schedules a graceful process restart.
type Restarter interface {
	ScheduleRestart(delay time.Duration)
}

// Broadcaster sends one text to every known user.
type Broadcaster interface {
	Recipients() []string
	Broadcast(ctx context.Context, transport channel.Transport, text string) broadcast.Summary
}

// Actions holds the dependencies of the built-in handlers.
type Actions struct {
	cfg       Config
	broadcast Broadcaster
	restarter Restarter
	stats     StatsFunc
	startedAt time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// New creates the built-in action set.
func New(log *slog.Logger, cfg Config, broadcaster Broadcaster, restarter Restarter) *Actions {
	if log == nil {
		log = slog.Default()
	}
	return &Actions{
		cfg:       cfg,
		broadcast: broadcaster,
		restarter: restarter,
		stats:     SelfStats,
		startedAt: time.Now(),
		now:       time.Now,
		logger:    log.With(slog.String("component", "actions")),
	}
}

// Register adds every built-in command to reg.
func (a *Actions) Register(reg *bot.Registry) error {
	for _, spec := range a.specs() {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func (a *Actions) specs() []bot.Spec {
	return []bot.Spec{
		{Name: "menu", Category: commands.CategoryMain, Description: "show the main menu", Usage: "menu", Handler: a.menu},
		{Name: "allmenu", Category: commands.CategoryMain, Description: "list every command", Usage: "allmenu", Handler: a.allMenu},
		{Name: "info", Category: commands.CategoryMain, Description: "bot status", Usage: "info", Handler: a.info},
		{Name: "ping", Category: commands.CategoryMain, Description: "measure latency", Usage: "ping", Handler: a.ping},
		{Name: "profile", Category: commands.CategoryMain, Description: "your registration details", Usage: "profile", Handler: a.profile},
		{Name: "register", Aliases: []string{"daftar"}, Category: commands.CategoryMain, Description: "register to unlock every command", Usage: "register", Handler: a.register},
		{Name: "rules", Category: commands.CategoryMain, Description: "house rules", Usage: "rules", Handler: a.rules},
		{Name: "donate", Aliases: []string{"donasi"}, Category: commands.CategoryMain, Description: "support the bot", Usage: "donate", Handler: a.donate},

		{Name: "antilink", Access: commands.AccessGroupAdmin, Category: commands.CategoryGroup, Description: "remove members who post links", Usage: "antilink on|off", Handler: a.toggle},
		{Name: "welcome", Access: commands.AccessGroupAdmin, Category: commands.CategoryGroup, Description: "greet new members", Usage: "welcome on|off", Handler: a.toggle},
		{Name: "goodbye", Access: commands.AccessGroupAdmin, Category: commands.CategoryGroup, Description: "say goodbye to leaving members", Usage: "goodbye on|off", Handler: a.toggle},
		{Name: "group", Aliases: []string{"groupmode"}, Access: commands.AccessGroupAdmin, Category: commands.CategoryGroup, Description: "open or close the group", Usage: "group open|close", Handler: a.groupMode},
		{Name: "tagall", Access: commands.AccessGroupAdmin, Category: commands.CategoryGroup, Description: "mention every member", Usage: "tagall [text]", Handler: a.tagAll},
		{Name: "hidetag", Access: commands.AccessGroupAdmin, Category: commands.CategoryGroup, Description: "mention every member silently", Usage: "hidetag <text>", Handler: a.hideTag},
		{Name: "del", Aliases: []string{"delete"}, Access: commands.AccessGroupAdmin, Category: commands.CategoryGroup, Description: "delete the replied message", Usage: "del (reply to a message)", Handler: a.deleteMessage},
		{Name: "warn", Access: commands.AccessGroupAdmin, Category: commands.CategoryGroup, Description: "warn a member", Usage: "warn <user> (or reply to a message)", Handler: a.warn},

		{Name: "owner", Category: commands.CategoryOwner, Description: "contact the owner", Usage: "owner", Handler: a.ownerInfo},
		{Name: "broadcast", Access: commands.AccessOwner, Category: commands.CategoryOwner, Description: "message every registered user", Usage: "broadcast <text>", Handler: a.broadcastAll},
		{Name: "restart", Access: commands.AccessOwner, Category: commands.CategoryOwner, Description: "restart the bot", Usage: "restart", Handler: a.restart},
		{Name: "setprefix", Access: commands.AccessOwner, Category: commands.CategoryOwner, Description: "change the command prefix", Usage: "setprefix <1-2 chars>", Handler: a.setPrefix},
	}
}

func linkData(links []Link) []map[string]string {
	out := make([]map[string]string, 0, len(links))
	for _, l := range links {
		out = append(out, map[string]string{"Label": l.Label, "URL": l.URL})
	}
	return out
}

// linkButtons turns configured links into external buttons.
func linkButtons(links []Link) []channel.Button {
	out := make([]channel.Button, 0, len(links))
	for _, l := range links {
		if l.URL == "" {
			continue
		}
		out = append(out, channel.Button{ID: l.URL, Label: l.Label, Kind: channel.ButtonExternal})
	}
	return out
}
