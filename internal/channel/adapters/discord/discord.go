// Package discord implements the Discord transport on top of the gateway and REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/identity"
)

// Type is the Discord channel type.
const Type = channel.TypeDiscord

const (
	inboundDedupTTL  = time.Minute
	discordMaxLength = 2000
	buttonsPerRow    = 5
	maxComponentRows = 5
	rosterPageLimit  = 1000
	adminPermissions = discordgo.PermissionAdministrator | discordgo.PermissionManageMessages
)

// session is the REST surface the adapter uses; *discordgo.Session satisfies it.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	GuildMemberDelete(guildID, userID string, options ...discordgo.RequestOption) error
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error
	ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error
}

// DiscordAdapter implements channel.Adapter, channel.Receiver and channel.Transport for Discord.
type DiscordAdapter struct {
	logger *slog.Logger
	token  string

	mu           sync.RWMutex
	session      session
	dmChannels   map[string]string    // user id -> DM channel id
	seenMessages map[string]time.Time // message id -> first seen
}

// NewDiscordAdapter creates a DiscordAdapter for the given bot token.
func NewDiscordAdapter(log *slog.Logger, token string) *DiscordAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &DiscordAdapter{
		logger:       log.With(slog.String("adapter", "discord")),
		token:        strings.TrimSpace(token),
		dmChannels:   make(map[string]string),
		seenMessages: make(map[string]time.Time),
	}
}

// Type returns the Discord channel type.
func (a *DiscordAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Discord channel metadata.
func (a *DiscordAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Discord",
		Capabilities: channel.Capabilities{
			Buttons:      true,
			Edit:         true,
			Delete:       true,
			Mentions:     true,
			AnnounceOnly: true,
		},
		TextChunkLimit: discordMaxLength,
	}
}

func (a *DiscordAdapter) setSession(s session) {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
}

func (a *DiscordAdapter) client() (session, error) {
	a.mu.RLock()
	s := a.session
	a.mu.RUnlock()
	if s == nil {
		return nil, errors.New("discord session is not connected")
	}
	return s, nil
}

// Connect opens the gateway session and forwards events to handler in order.
func (a *DiscordAdapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	if a.token == "" {
		return nil, errors.New("discord token is required")
	}
	dg, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.logger.Error("create session failed", slog.Any("error", err))
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsAll
	// Handlers run one at a time so inbound order is preserved.
	dg.SyncEvents = true

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	forward := func(event channel.InboundEvent) {
		if connCtx.Err() != nil || event == nil {
			return
		}
		if err := handler(connCtx, event); err != nil {
			a.logger.Error("handle inbound failed", slog.Any("error", err))
		}
	}

	removers := []func(){
		dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
			if m.Author == nil || m.Author.Bot || a.isDuplicateInbound(m.ID) {
				return
			}
			if event, ok := messageEvent(m.Message); ok {
				forward(event)
			}
		}),
		dg.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			if i.Type != discordgo.InteractionMessageComponent {
				return
			}
			if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseDeferredMessageUpdate,
			}); err != nil {
				a.logger.Debug("interaction ack failed", slog.Any("error", err))
			}
			if event, ok := buttonEvent(i.Interaction); ok {
				forward(event)
			}
		}),
		dg.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
			if m.Member == nil || m.User == nil || m.User.Bot {
				return
			}
			if event, ok := membershipEvent(systemChannel(s, m.GuildID), m.User.ID, channel.MembershipAdd); ok {
				forward(event)
			}
		}),
		dg.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
			if m.Member == nil || m.User == nil || m.User.Bot {
				return
			}
			if event, ok := membershipEvent(systemChannel(s, m.GuildID), m.User.ID, channel.MembershipRemove); ok {
				forward(event)
			}
		}),
	}

	if err := dg.Open(); err != nil {
		cancel()
		for _, remove := range removers {
			remove()
		}
		return nil, fmt.Errorf("discord open connection: %w", err)
	}
	a.setSession(dg)
	a.logger.Info("start")

	stop := func(_ context.Context) error {
		a.logger.Info("stop")
		cancel()
		for _, remove := range removers {
			remove()
		}
		a.setSession(nil)
		return dg.Close()
	}
	return channel.NewConnection(Type, stop), nil
}

func systemChannel(s *discordgo.Session, guildID string) string {
	if guild, err := s.State.Guild(guildID); err == nil && guild != nil {
		return guild.SystemChannelID
	}
	guild, err := s.Guild(guildID)
	if err != nil || guild == nil {
		return ""
	}
	return guild.SystemChannelID
}

// messageEvent converts a created message into a TextMessage.
func messageEvent(m *discordgo.Message) (channel.TextMessage, bool) {
	if m == nil || m.Author == nil {
		return channel.TextMessage{}, false
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return channel.TextMessage{}, false
	}
	isGroup := m.GuildID != ""
	chatID := identity.UserAddress(m.Author.ID)
	if isGroup {
		chatID = identity.GroupAddress(m.ChannelID)
	}
	event := channel.TextMessage{
		Sender:     identity.UserAddress(m.Author.ID),
		SenderName: displayName(m.Author, m.Member),
		ChatID:     chatID,
		IsGroup:    isGroup,
		Text:       text,
	}
	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		quoted := &channel.QuotedMessage{Ref: channel.MessageRef{ChatID: chatID, ID: ref.MessageID}}
		if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
			quoted.Author = identity.UserAddress(m.ReferencedMessage.Author.ID)
		}
		event.Quoted = quoted
	}
	return event, true
}

// buttonEvent converts a component interaction into a ButtonTap.
func buttonEvent(i *discordgo.Interaction) (channel.ButtonTap, bool) {
	if i == nil || i.Type != discordgo.InteractionMessageComponent {
		return channel.ButtonTap{}, false
	}
	user := i.User
	var member *discordgo.Member
	if i.Member != nil {
		member = i.Member
		if member.User != nil {
			user = member.User
		}
	}
	if user == nil {
		return channel.ButtonTap{}, false
	}
	selected := i.MessageComponentData().CustomID
	if selected == "" {
		return channel.ButtonTap{}, false
	}
	chatID := identity.UserAddress(user.ID)
	if i.GuildID != "" {
		chatID = identity.GroupAddress(i.ChannelID)
	}
	return channel.ButtonTap{
		Sender:     identity.UserAddress(user.ID),
		SenderName: displayName(user, member),
		ChatID:     chatID,
		SelectedID: selected,
	}, true
}

func membershipEvent(channelID, userID string, action channel.MembershipAction) (channel.MembershipChange, bool) {
	if channelID == "" || userID == "" {
		return channel.MembershipChange{}, false
	}
	return channel.MembershipChange{
		ChatID:       identity.GroupAddress(channelID),
		Participants: []string{identity.UserAddress(userID)},
		Action:       action,
	}, true
}

func displayName(u *discordgo.User, m *discordgo.Member) string {
	if m != nil && strings.TrimSpace(m.Nick) != "" {
		return strings.TrimSpace(m.Nick)
	}
	if u == nil {
		return ""
	}
	if strings.TrimSpace(u.GlobalName) != "" {
		return strings.TrimSpace(u.GlobalName)
	}
	return u.Username
}

// resolveChannel maps a chat address to a Discord channel id, opening a DM
// channel for user addresses.
func (a *DiscordAdapter) resolveChannel(s session, address string) (string, error) {
	handle := identity.Canonicalize(address)
	if handle == "" {
		return "", fmt.Errorf("discord target is required")
	}
	if identity.IsGroupChat(address) {
		return handle, nil
	}
	a.mu.RLock()
	cached, ok := a.dmChannels[handle]
	a.mu.RUnlock()
	if ok {
		return cached, nil
	}
	dm, err := s.UserChannelCreate(handle)
	if err != nil {
		return "", fmt.Errorf("discord open dm: %w", err)
	}
	a.mu.Lock()
	a.dmChannels[handle] = dm.ID
	a.mu.Unlock()
	return dm.ID, nil
}

// SendText sends or edits a text message. "@<id>" for each mentioned
// participant becomes a Discord user mention.
func (a *DiscordAdapter) SendText(ctx context.Context, chatID, text string, mentions []string, edit *channel.MessageRef) (channel.MessageRef, error) {
	s, err := a.client()
	if err != nil {
		return channel.MessageRef{}, err
	}
	channelID, err := a.resolveChannel(s, chatID)
	if err != nil {
		return channel.MessageRef{}, err
	}
	content, allowed := renderMentions(text, mentions)
	if edit != nil {
		content = truncateDiscordText(content)
		if _, err := s.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:              edit.ID,
			Channel:         channelID,
			Content:         &content,
			AllowedMentions: allowed,
		}); err != nil {
			return channel.MessageRef{}, err
		}
		return *edit, nil
	}
	var last channel.MessageRef
	for _, chunk := range channel.ChunkText(content, discordMaxLength) {
		sent, err := s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: allowed,
		})
		if err != nil {
			return last, err
		}
		last = channel.MessageRef{ChatID: chatID, ID: sent.ID}
	}
	return last, nil
}

// SendInteractive sends text with a button row layout.
func (a *DiscordAdapter) SendInteractive(ctx context.Context, chatID string, msg channel.Interactive) (channel.MessageRef, error) {
	s, err := a.client()
	if err != nil {
		return channel.MessageRef{}, err
	}
	channelID, err := a.resolveChannel(s, chatID)
	if err != nil {
		return channel.MessageRef{}, err
	}
	content, allowed := renderMentions(msg.Text, msg.Mentions)
	if footer := strings.TrimSpace(msg.Footer); footer != "" {
		content += "\n\n-# " + footer
	}
	sent, err := s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         truncateDiscordText(content),
		Components:      buildComponents(msg.Buttons),
		AllowedMentions: allowed,
	})
	if err != nil {
		return channel.MessageRef{}, err
	}
	return channel.MessageRef{ChatID: chatID, ID: sent.ID}, nil
}

func buildComponents(buttons []channel.Button) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	var row []discordgo.MessageComponent
	for _, b := range buttons {
		button := discordgo.Button{Label: b.Label, Style: discordgo.PrimaryButton, CustomID: b.ID}
		if b.Kind == channel.ButtonExternal {
			button = discordgo.Button{Label: b.Label, Style: discordgo.LinkButton, URL: b.ID}
		}
		row = append(row, button)
		if len(row) == buttonsPerRow {
			rows = append(rows, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, discordgo.ActionsRow{Components: row})
	}
	if len(rows) > maxComponentRows {
		rows = rows[:maxComponentRows]
	}
	return rows
}

// DeleteMessage removes a message.
func (a *DiscordAdapter) DeleteMessage(ctx context.Context, ref channel.MessageRef) error {
	s, err := a.client()
	if err != nil {
		return err
	}
	channelID, err := a.resolveChannel(s, ref.ChatID)
	if err != nil {
		return err
	}
	return s.ChannelMessageDelete(channelID, ref.ID)
}

// GroupRoster lists the guild members that can see the channel, flagging
// members with administrator or manage-messages permission as admins.
func (a *DiscordAdapter) GroupRoster(ctx context.Context, chatID string) ([]channel.RosterMember, error) {
	s, err := a.client()
	if err != nil {
		return nil, err
	}
	channelID := identity.Canonicalize(chatID)
	ch, err := s.Channel(channelID)
	if err != nil {
		return nil, err
	}
	if ch.GuildID == "" {
		return nil, channel.ErrUnsupported
	}
	members, err := s.GuildMembers(ch.GuildID, "", rosterPageLimit)
	if err != nil {
		return nil, err
	}
	roster := make([]channel.RosterMember, 0, len(members))
	for _, m := range members {
		if m.User == nil || m.User.Bot {
			continue
		}
		perms, err := s.UserChannelPermissions(m.User.ID, channelID)
		if err != nil {
			a.logger.Debug("permission lookup failed", slog.String("user_id", m.User.ID), slog.Any("error", err))
		}
		if perms&discordgo.PermissionViewChannel == 0 && perms&discordgo.PermissionAdministrator == 0 {
			continue
		}
		roster = append(roster, channel.RosterMember{
			ID:      identity.UserAddress(m.User.ID),
			IsAdmin: perms&adminPermissions != 0,
		})
	}
	return roster, nil
}

// SetGroupMembership kicks a participant from the guild.
func (a *DiscordAdapter) SetGroupMembership(ctx context.Context, chatID, participantID string, action channel.MembershipAction) error {
	if action != channel.MembershipRemove {
		return channel.ErrUnsupported
	}
	s, err := a.client()
	if err != nil {
		return err
	}
	ch, err := s.Channel(identity.Canonicalize(chatID))
	if err != nil {
		return err
	}
	if ch.GuildID == "" {
		return channel.ErrUnsupported
	}
	return s.GuildMemberDelete(ch.GuildID, identity.Canonicalize(participantID))
}

// SetGroupAnnounceOnly denies @everyone the send permission in the channel
// when enabled and removes the overwrite when disabled.
func (a *DiscordAdapter) SetGroupAnnounceOnly(ctx context.Context, chatID string, enabled bool) error {
	s, err := a.client()
	if err != nil {
		return err
	}
	channelID := identity.Canonicalize(chatID)
	ch, err := s.Channel(channelID)
	if err != nil {
		return err
	}
	if ch.GuildID == "" {
		return channel.ErrUnsupported
	}
	// The @everyone role id equals the guild id.
	if enabled {
		return s.ChannelPermissionSet(channelID, ch.GuildID, discordgo.PermissionOverwriteTypeRole, 0, discordgo.PermissionSendMessages)
	}
	return s.ChannelPermissionDelete(channelID, ch.GuildID)
}

func renderMentions(text string, mentions []string) (string, *discordgo.MessageAllowedMentions) {
	allowed := &discordgo.MessageAllowedMentions{}
	for _, m := range mentions {
		if handle := identity.Canonicalize(m); handle != "" {
			allowed.Users = append(allowed.Users, handle)
		}
	}
	text = identity.RewriteMentions(text, mentions, func(handle string) string {
		return "<@" + handle + ">"
	})
	return text, allowed
}

func truncateDiscordText(text string) string {
	runes := []rune(text)
	if len(runes) > discordMaxLength {
		return string(runes[:discordMaxLength-3]) + "..."
	}
	return text
}

func (a *DiscordAdapter) isDuplicateInbound(messageID string) bool {
	if strings.TrimSpace(messageID) == "" {
		return false
	}

	now := time.Now().UTC()
	expireBefore := now.Add(-inboundDedupTTL)

	a.mu.Lock()
	defer a.mu.Unlock()

	for key, seenAt := range a.seenMessages {
		if seenAt.Before(expireBefore) {
			delete(a.seenMessages, key)
		}
	}
	if _, ok := a.seenMessages[messageID]; ok {
		return true
	}
	a.seenMessages[messageID] = now
	return false
}
