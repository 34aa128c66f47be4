package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/warden/internal/channel"
)

func TestEventsFromUpdateText(t *testing.T) {
	t.Parallel()

	update := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42, FirstName: "Alice", LastName: "Smith"},
		Chat:      &tgbotapi.Chat{ID: -1001, Type: "supergroup"},
		Text:      ".menu",
		ReplyToMessage: &tgbotapi.Message{
			MessageID: 5,
			From:      &tgbotapi.User{ID: 99},
		},
	}}
	events := eventsFromUpdate(update)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	msg, ok := events[0].(channel.TextMessage)
	if !ok {
		t.Fatalf("expected TextMessage, got %T", events[0])
	}
	if msg.Sender != "42@user" || msg.ChatID != "-1001@group" || !msg.IsGroup {
		t.Fatalf("unexpected addressing: %+v", msg)
	}
	if msg.SenderName != "Alice Smith" || msg.Text != ".menu" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Quoted == nil || msg.Quoted.Author != "99@user" || msg.Quoted.Ref.ID != "5" || msg.Quoted.Ref.ChatID != "-1001@group" {
		t.Fatalf("unexpected quote: %+v", msg.Quoted)
	}
}

func TestEventsFromUpdatePrivateCaption(t *testing.T) {
	t.Parallel()

	update := tgbotapi.Update{Message: &tgbotapi.Message{
		From:    &tgbotapi.User{ID: 42, UserName: "alice"},
		Chat:    &tgbotapi.Chat{ID: 42, Type: "private"},
		Caption: "look",
	}}
	events := eventsFromUpdate(update)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	msg := events[0].(channel.TextMessage)
	if msg.IsGroup || msg.ChatID != "42@user" || msg.Text != "look" || msg.SenderName != "alice" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestEventsFromUpdateMembership(t *testing.T) {
	t.Parallel()

	chat := &tgbotapi.Chat{ID: -5, Type: "group"}
	joined := eventsFromUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:           chat,
		NewChatMembers: []tgbotapi.User{{ID: 1}, {ID: 2, IsBot: true}, {ID: 3}},
	}})
	if len(joined) != 1 {
		t.Fatalf("expected one event, got %d", len(joined))
	}
	change := joined[0].(channel.MembershipChange)
	if change.Action != channel.MembershipAdd || change.ChatID != "-5@group" {
		t.Fatalf("unexpected change: %+v", change)
	}
	if strings.Join(change.Participants, ",") != "1@user,3@user" {
		t.Fatalf("unexpected participants: %v", change.Participants)
	}

	left := eventsFromUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:           chat,
		LeftChatMember: &tgbotapi.User{ID: 1},
	}})
	if len(left) != 1 || left[0].(channel.MembershipChange).Action != channel.MembershipRemove {
		t.Fatalf("unexpected leave events: %+v", left)
	}

	onlyBots := eventsFromUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:           chat,
		NewChatMembers: []tgbotapi.User{{ID: 2, IsBot: true}},
	}})
	if len(onlyBots) != 0 {
		t.Fatalf("expected bot joins to be dropped, got %+v", onlyBots)
	}
}

func TestEventsFromUpdateCallback(t *testing.T) {
	t.Parallel()

	update := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 42, FirstName: "Alice"},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42, Type: "private"}},
		Data:    ".register",
	}}
	events := eventsFromUpdate(update)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	tap := events[0].(channel.ButtonTap)
	if tap.SelectedID != ".register" || tap.Sender != "42@user" || tap.ChatID != "42@user" {
		t.Fatalf("unexpected tap: %+v", tap)
	}
}

func TestEventsFromUpdateIgnoresEmpty(t *testing.T) {
	t.Parallel()

	if got := eventsFromUpdate(tgbotapi.Update{}); len(got) != 0 {
		t.Fatalf("expected no events, got %+v", got)
	}
	blank := tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1},
		Chat: &tgbotapi.Chat{ID: 1, Type: "private"},
		Text: "   ",
	}}
	if got := eventsFromUpdate(blank); len(got) != 0 {
		t.Fatalf("expected no events, got %+v", got)
	}
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"-1001@group": -1001,
		"42@user":     42,
		"42:1@user":   42,
		"77":          77,
	}
	for in, want := range cases {
		got, err := parseAddress(in)
		if err != nil || got != want {
			t.Fatalf("parseAddress(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	if _, err := parseAddress("alice@user"); err == nil {
		t.Fatalf("expected error for non-numeric address")
	}
}

func TestRenderHTML(t *testing.T) {
	t.Parallel()

	got := renderHTML("hi @42 <b>", []string{"42@user", ""})
	want := `hi <a href="tg://user?id=42">@42</a> &lt;b&gt;`
	if got != want {
		t.Fatalf("renderHTML = %q, want %q", got, want)
	}
}

func TestRenderHTMLPrefixHandles(t *testing.T) {
	t.Parallel()

	got := renderHTML("Hi all\n@123\n@12", []string{"123@user", "12@user"})
	want := "Hi all\n" + `<a href="tg://user?id=123">@123</a>` + "\n" + `<a href="tg://user?id=12">@12</a>`
	if got != want {
		t.Fatalf("renderHTML = %q, want %q", got, want)
	}
	got = renderHTML("@123 @12", []string{"12@user", "123@user"})
	want = `<a href="tg://user?id=123">@123</a> <a href="tg://user?id=12">@12</a>`
	if got != want {
		t.Fatalf("renderHTML reversed = %q, want %q", got, want)
	}
}

func TestAnnouncePermissionsKeepsOtherRights(t *testing.T) {
	t.Parallel()

	current := &tgbotapi.ChatPermissions{
		CanSendMessages: true,
		CanChangeInfo:   true,
		CanPinMessages:  true,
		CanInviteUsers:  true,
	}
	closed := announcePermissions(current, true)
	if closed.CanSendMessages || closed.CanSendMediaMessages || closed.CanSendPolls || closed.CanSendOtherMessages || closed.CanAddWebPagePreviews {
		t.Fatalf("closing must revoke sending: %+v", closed)
	}
	if !closed.CanChangeInfo || !closed.CanPinMessages || !closed.CanInviteUsers {
		t.Fatalf("closing must keep other rights: %+v", closed)
	}

	opened := announcePermissions(&closed, false)
	if !opened.CanSendMessages || !opened.CanSendMediaMessages || !opened.CanAddWebPagePreviews {
		t.Fatalf("opening must grant sending: %+v", opened)
	}
	if !opened.CanChangeInfo || !opened.CanPinMessages || !opened.CanInviteUsers {
		t.Fatalf("opening must keep other rights: %+v", opened)
	}
	if current.CanSendMessages != true {
		t.Fatal("current permissions must not be mutated")
	}

	if fresh := announcePermissions(nil, false); !fresh.CanSendMessages || fresh.CanChangeInfo {
		t.Fatalf("nil permissions: %+v", fresh)
	}
}

func TestBuildKeyboard(t *testing.T) {
	t.Parallel()

	keyboard, ok := buildKeyboard([]channel.Button{
		{ID: ".menu", Label: "Menu"},
		{ID: "https://github.com/memohai/warden", Label: "GitHub", Kind: channel.ButtonExternal},
		{ID: strings.Repeat("x", 65), Label: "Too long"},
	})
	if !ok {
		t.Fatalf("expected keyboard")
	}
	if len(keyboard.InlineKeyboard) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(keyboard.InlineKeyboard))
	}
	first := keyboard.InlineKeyboard[0][0]
	if first.CallbackData == nil || *first.CallbackData != ".menu" {
		t.Fatalf("unexpected callback button: %+v", first)
	}
	second := keyboard.InlineKeyboard[1][0]
	if second.URL == nil || *second.URL != "https://github.com/memohai/warden" {
		t.Fatalf("unexpected url button: %+v", second)
	}
	if _, ok := buildKeyboard(nil); ok {
		t.Fatalf("expected no keyboard for empty buttons")
	}
}

func TestIsTelegramMessageNotModified(t *testing.T) {
	t.Parallel()

	if !isTelegramMessageNotModified(&tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}) {
		t.Fatalf("expected not-modified error to match")
	}
	if isTelegramMessageNotModified(&tgbotapi.Error{Code: 400, Message: "chat not found"}) {
		t.Fatalf("unexpected match")
	}
}

func TestTruncateTelegramText(t *testing.T) {
	t.Parallel()

	short := "hello"
	if got := truncateTelegramText(short); got != short {
		t.Fatalf("short text changed: %q", got)
	}
	long := strings.Repeat("é", telegramMaxMessageLength)
	got := truncateTelegramText(long)
	if len(got) > telegramMaxMessageLength || !utf8.ValidString(got) || !strings.HasSuffix(got, "...") {
		t.Fatalf("invalid truncation: len=%d valid=%v", len(got), utf8.ValidString(got))
	}
}

func TestDescriptor(t *testing.T) {
	t.Parallel()

	adapter := NewTelegramAdapter(nil, " token ")
	if adapter.Type() != channel.TypeTelegram {
		t.Fatalf("unexpected type: %s", adapter.Type())
	}
	desc := adapter.Descriptor()
	if !desc.Capabilities.Buttons || desc.TextChunkLimit != telegramMaxMessageLength {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	if _, err := adapter.client(); err == nil {
		t.Fatalf("expected error before connect")
	}
}
