// Package telegram implements the Telegram transport on top of the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/identity"
)

// Type is the Telegram channel type.
const Type = channel.TypeTelegram

const telegramMaxMessageLength = 4096

// TelegramAdapter implements channel.Adapter, channel.Receiver and channel.Transport for Telegram.
type TelegramAdapter struct {
	logger *slog.Logger
	token  string

	mu  sync.RWMutex
	bot *tgbotapi.BotAPI
	// seen tracks participants observed per chat; the Bot API has no member list.
	seen map[int64]map[int64]struct{}
}

// NewTelegramAdapter creates a TelegramAdapter for the given bot token.
func NewTelegramAdapter(log *slog.Logger, token string) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	adapter := &TelegramAdapter{
		logger: log.With(slog.String("adapter", "telegram")),
		token:  strings.TrimSpace(token),
		seen:   map[int64]map[int64]struct{}{},
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	return adapter
}

// Type returns the Telegram channel type.
func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Telegram channel metadata.
func (a *TelegramAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Telegram",
		Capabilities: channel.Capabilities{
			Buttons:      true,
			Edit:         true,
			Delete:       true,
			Mentions:     true,
			AnnounceOnly: true,
		},
		TextChunkLimit: telegramMaxMessageLength,
	}
}

func (a *TelegramAdapter) client() (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot := a.bot
	a.mu.RUnlock()
	if bot == nil {
		return nil, errors.New("telegram bot is not connected")
	}
	return bot, nil
}

// Connect starts long polling and forwards updates to handler in order.
func (a *TelegramAdapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	if a.token == "" {
		return nil, errors.New("telegram token is required")
	}
	bot, err := tgbotapi.NewBotAPI(a.token)
	if err != nil {
		a.logger.Error("create bot failed", slog.Any("error", err))
		return nil, err
	}
	a.mu.Lock()
	a.bot = bot
	a.mu.Unlock()
	a.logger.Info("start", slog.String("username", bot.Self.UserName))

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updateConfig.AllowedUpdates = []string{"message", "callback_query"}
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed")
					return
				}
				if update.CallbackQuery != nil {
					if _, err := bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
						a.logger.Debug("callback ack failed", slog.Any("error", err))
					}
				}
				a.observe(update.Message)
				for _, event := range eventsFromUpdate(update) {
					if err := handler(connCtx, event); err != nil {
						a.logger.Error("handle inbound failed", slog.Any("error", err))
					}
				}
			}
		}
	}()

	stop := func(_ context.Context) error {
		a.logger.Info("stop")
		bot.StopReceivingUpdates()
		cancel()
		// Drain so the polling goroutine can exit and release the getUpdates session.
		for range updates {
		}
		return nil
	}
	return channel.NewConnection(Type, stop), nil
}

func (a *TelegramAdapter) observe(msg *tgbotapi.Message) {
	if msg == nil || msg.Chat == nil || !isGroupChat(msg.Chat) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	members := a.seen[msg.Chat.ID]
	if members == nil {
		members = map[int64]struct{}{}
		a.seen[msg.Chat.ID] = members
	}
	if msg.From != nil && !msg.From.IsBot {
		members[msg.From.ID] = struct{}{}
	}
	for _, u := range msg.NewChatMembers {
		if !u.IsBot {
			members[u.ID] = struct{}{}
		}
	}
	if msg.LeftChatMember != nil {
		delete(members, msg.LeftChatMember.ID)
	}
}

// eventsFromUpdate maps one Bot API update to inbound events.
func eventsFromUpdate(update tgbotapi.Update) []channel.InboundEvent {
	if cq := update.CallbackQuery; cq != nil {
		if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil || cq.Data == "" {
			return nil
		}
		return []channel.InboundEvent{channel.ButtonTap{
			Sender:     userAddress(cq.From.ID),
			SenderName: displayName(cq.From),
			ChatID:     chatAddress(cq.Message.Chat),
			SelectedID: cq.Data,
		}}
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}
	chatID := chatAddress(msg.Chat)
	if len(msg.NewChatMembers) > 0 {
		participants := make([]string, 0, len(msg.NewChatMembers))
		for _, u := range msg.NewChatMembers {
			if !u.IsBot {
				participants = append(participants, userAddress(u.ID))
			}
		}
		if len(participants) == 0 {
			return nil
		}
		return []channel.InboundEvent{channel.MembershipChange{ChatID: chatID, Participants: participants, Action: channel.MembershipAdd}}
	}
	if left := msg.LeftChatMember; left != nil {
		if left.IsBot {
			return nil
		}
		return []channel.InboundEvent{channel.MembershipChange{ChatID: chatID, Participants: []string{userAddress(left.ID)}, Action: channel.MembershipRemove}}
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" || msg.From == nil {
		return nil
	}
	event := channel.TextMessage{
		Sender:     userAddress(msg.From.ID),
		SenderName: displayName(msg.From),
		ChatID:     chatID,
		IsGroup:    isGroupChat(msg.Chat),
		Text:       text,
	}
	if reply := msg.ReplyToMessage; reply != nil {
		quoted := &channel.QuotedMessage{Ref: channel.MessageRef{ChatID: chatID, ID: strconv.Itoa(reply.MessageID)}}
		if reply.From != nil {
			quoted.Author = userAddress(reply.From.ID)
		}
		event.Quoted = quoted
	}
	return []channel.InboundEvent{event}
}

// SendText sends or edits a text message. Mentions become tg://user links.
func (a *TelegramAdapter) SendText(ctx context.Context, chatID, text string, mentions []string, edit *channel.MessageRef) (channel.MessageRef, error) {
	bot, err := a.client()
	if err != nil {
		return channel.MessageRef{}, err
	}
	id, err := parseAddress(chatID)
	if err != nil {
		return channel.MessageRef{}, err
	}
	if edit != nil {
		msgID, err := strconv.Atoi(edit.ID)
		if err != nil {
			return channel.MessageRef{}, fmt.Errorf("telegram message id: %w", err)
		}
		cfg := tgbotapi.NewEditMessageText(id, msgID, truncateTelegramText(renderHTML(text, mentions)))
		cfg.ParseMode = tgbotapi.ModeHTML
		if _, err := bot.Send(cfg); err != nil && !isTelegramMessageNotModified(err) {
			return channel.MessageRef{}, err
		}
		return *edit, nil
	}

	var last channel.MessageRef
	for _, chunk := range channel.ChunkText(text, telegramMaxMessageLength-256) {
		msg := tgbotapi.NewMessage(id, renderHTML(chunk, mentions))
		msg.ParseMode = tgbotapi.ModeHTML
		sent, err := bot.Send(msg)
		if err != nil {
			return last, err
		}
		last = channel.MessageRef{ChatID: chatID, ID: strconv.Itoa(sent.MessageID)}
	}
	return last, nil
}

// SendInteractive sends text with an inline keyboard, one button per row.
func (a *TelegramAdapter) SendInteractive(ctx context.Context, chatID string, msg channel.Interactive) (channel.MessageRef, error) {
	bot, err := a.client()
	if err != nil {
		return channel.MessageRef{}, err
	}
	id, err := parseAddress(chatID)
	if err != nil {
		return channel.MessageRef{}, err
	}
	body := renderHTML(msg.Text, msg.Mentions)
	if footer := strings.TrimSpace(msg.Footer); footer != "" {
		body += "\n\n<i>" + html.EscapeString(footer) + "</i>"
	}
	out := tgbotapi.NewMessage(id, truncateTelegramText(body))
	out.ParseMode = tgbotapi.ModeHTML
	if keyboard, ok := buildKeyboard(msg.Buttons); ok {
		out.ReplyMarkup = keyboard
	}
	sent, err := bot.Send(out)
	if err != nil {
		return channel.MessageRef{}, err
	}
	return channel.MessageRef{ChatID: chatID, ID: strconv.Itoa(sent.MessageID)}, nil
}

func buildKeyboard(buttons []channel.Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		switch b.Kind {
		case channel.ButtonExternal:
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.ID)))
		default:
			// callback_data is limited to 64 bytes.
			if len(b.ID) > 64 {
				continue
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Label, b.ID)))
		}
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// DeleteMessage removes a message.
func (a *TelegramAdapter) DeleteMessage(ctx context.Context, ref channel.MessageRef) error {
	bot, err := a.client()
	if err != nil {
		return err
	}
	id, err := parseAddress(ref.ChatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(ref.ID)
	if err != nil {
		return fmt.Errorf("telegram message id: %w", err)
	}
	_, err = bot.Request(tgbotapi.NewDeleteMessage(id, msgID))
	return err
}

// GroupRoster returns the chat administrators plus every participant seen
// in the chat since start.
func (a *TelegramAdapter) GroupRoster(ctx context.Context, chatID string) ([]channel.RosterMember, error) {
	bot, err := a.client()
	if err != nil {
		return nil, err
	}
	id, err := parseAddress(chatID)
	if err != nil {
		return nil, err
	}
	admins, err := bot.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
	if err != nil {
		return nil, err
	}
	adminIDs := make(map[int64]struct{}, len(admins))
	members := make([]channel.RosterMember, 0, len(admins))
	for _, m := range admins {
		if m.User == nil || m.User.IsBot {
			continue
		}
		adminIDs[m.User.ID] = struct{}{}
		members = append(members, channel.RosterMember{ID: userAddress(m.User.ID), IsAdmin: true})
	}
	a.mu.RLock()
	for uid := range a.seen[id] {
		if _, isAdmin := adminIDs[uid]; !isAdmin {
			members = append(members, channel.RosterMember{ID: userAddress(uid)})
		}
	}
	a.mu.RUnlock()
	return members, nil
}

// SetGroupMembership removes a participant. Telegram has no plain kick, so
// the user is banned and immediately unbanned to allow rejoining.
func (a *TelegramAdapter) SetGroupMembership(ctx context.Context, chatID, participantID string, action channel.MembershipAction) error {
	if action != channel.MembershipRemove {
		return channel.ErrUnsupported
	}
	bot, err := a.client()
	if err != nil {
		return err
	}
	id, err := parseAddress(chatID)
	if err != nil {
		return err
	}
	uid, err := parseAddress(participantID)
	if err != nil {
		return err
	}
	member := tgbotapi.ChatMemberConfig{ChatID: id, UserID: uid}
	if _, err := bot.Request(tgbotapi.BanChatMemberConfig{ChatMemberConfig: member}); err != nil {
		return err
	}
	_, err = bot.Request(tgbotapi.UnbanChatMemberConfig{ChatMemberConfig: member, OnlyIfBanned: true})
	return err
}

// SetGroupAnnounceOnly restricts sending to admins when enabled.
func (a *TelegramAdapter) SetGroupAnnounceOnly(ctx context.Context, chatID string, enabled bool) error {
	bot, err := a.client()
	if err != nil {
		return err
	}
	id, err := parseAddress(chatID)
	if err != nil {
		return err
	}
	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
	if err != nil {
		return fmt.Errorf("read chat permissions: %w", err)
	}
	perms := announcePermissions(chat.Permissions, enabled)
	_, err = bot.Request(tgbotapi.SetChatPermissionsConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: id},
		Permissions: &perms,
	})
	return err
}

// announcePermissions toggles the sending permissions of current and keeps
// every other permission as the chat has it.
func announcePermissions(current *tgbotapi.ChatPermissions, enabled bool) tgbotapi.ChatPermissions {
	var perms tgbotapi.ChatPermissions
	if current != nil {
		perms = *current
	}
	open := !enabled
	perms.CanSendMessages = open
	perms.CanSendMediaMessages = open
	perms.CanSendPolls = open
	perms.CanSendOtherMessages = open
	perms.CanAddWebPagePreviews = open
	return perms
}

func isGroupChat(chat *tgbotapi.Chat) bool {
	return chat != nil && (chat.IsGroup() || chat.IsSuperGroup())
}

func chatAddress(chat *tgbotapi.Chat) string {
	handle := strconv.FormatInt(chat.ID, 10)
	if isGroupChat(chat) {
		return identity.GroupAddress(handle)
	}
	return identity.UserAddress(handle)
}

func userAddress(id int64) string {
	return identity.UserAddress(strconv.FormatInt(id, 10))
}

func parseAddress(address string) (int64, error) {
	id, err := strconv.ParseInt(identity.Canonicalize(address), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram address %q must carry a numeric id", address)
	}
	return id, nil
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = strings.TrimSpace(u.UserName)
	}
	return name
}

// renderHTML escapes text for HTML parse mode and turns "@<id>" for every
// mentioned participant into a tg://user link.
func renderHTML(text string, mentions []string) string {
	out := html.EscapeString(sanitizeTelegramText(text))
	return identity.RewriteMentions(out, mentions, func(handle string) string {
		return fmt.Sprintf(`<a href="tg://user?id=%s">@%s</a>`, handle, handle)
	})
}

func isTelegramMessageNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 400 && strings.Contains(apiErr.Message, "message is not modified")
	}
	return false
}

// sanitizeTelegramText ensures text is valid UTF-8 for the Telegram API.
func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateTelegramText truncates text to telegramMaxMessageLength on a valid
// UTF-8 rune boundary, appending "..." when truncation occurs.
func truncateTelegramText(text string) string {
	if len(text) <= telegramMaxMessageLength {
		return text
	}
	const suffix = "..."
	limit := telegramMaxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}

// slogBotLogger routes the library's internal logging to slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
