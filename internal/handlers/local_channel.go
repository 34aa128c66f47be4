package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/channel/adapters/local"
	"github.com/memohai/warden/internal/identity"
)

const localWriteTimeout = 10 * time.Second

// LocalChannelHandler drives the local channel over HTTP: events are
// injected with POST and outbound calls are read back from the outbox or
// streamed over a WebSocket.
type LocalChannelHandler struct {
	logger   *slog.Logger
	adapter  *local.LocalAdapter
	upgrader websocket.Upgrader
}

// NewLocalChannelHandler creates a local channel handler.
func NewLocalChannelHandler(log *slog.Logger, adapter *local.LocalAdapter) *LocalChannelHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LocalChannelHandler{
		logger:  log.With(slog.String("handler", "local_channel")),
		adapter: adapter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Register registers the local channel routes.
func (h *LocalChannelHandler) Register(e *echo.Echo) {
	group := e.Group("/api/local")
	group.POST("/events", h.PostEvent)
	group.PUT("/groups/:chat/roster", h.PutRoster)
	group.GET("/outbox", h.GetOutbox)
	group.GET("/stream", h.Stream)
}

type localQuote struct {
	ChatID string `json:"chat_id"`
	ID     string `json:"id"`
	Author string `json:"author"`
}

// LocalEventRequest is the body of POST /api/local/events. Type selects
// which of the remaining fields apply.
type LocalEventRequest struct {
	Type         string      `json:"type"`
	Sender       string      `json:"sender"`
	SenderName   string      `json:"sender_name"`
	ChatID       string      `json:"chat_id"`
	Text         string      `json:"text"`
	Quoted       *localQuote `json:"quoted,omitempty"`
	Participants []string    `json:"participants"`
	Action       string      `json:"action"`
	SelectedID   string      `json:"selected_id"`
}

func (r LocalEventRequest) event() (channel.InboundEvent, error) {
	chatID := strings.TrimSpace(r.ChatID)
	if chatID == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}
	switch channel.EventKind(strings.ToLower(strings.TrimSpace(r.Type))) {
	case channel.EventText, "":
		if strings.TrimSpace(r.Sender) == "" {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "sender is required")
		}
		msg := channel.TextMessage{
			Sender:     strings.TrimSpace(r.Sender),
			SenderName: r.SenderName,
			ChatID:     chatID,
			IsGroup:    identity.IsGroupChat(chatID),
			Text:       r.Text,
		}
		if r.Quoted != nil && r.Quoted.ID != "" {
			quoteChat := r.Quoted.ChatID
			if quoteChat == "" {
				quoteChat = chatID
			}
			msg.Quoted = &channel.QuotedMessage{
				Ref:    channel.MessageRef{ChatID: quoteChat, ID: r.Quoted.ID},
				Author: r.Quoted.Author,
			}
		}
		return msg, nil
	case channel.EventMembership:
		action := channel.MembershipAction(strings.ToLower(strings.TrimSpace(r.Action)))
		if action != channel.MembershipAdd && action != channel.MembershipRemove {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "action must be add or remove")
		}
		if len(r.Participants) == 0 {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "participants are required")
		}
		return channel.MembershipChange{ChatID: chatID, Participants: r.Participants, Action: action}, nil
	case channel.EventButton:
		if strings.TrimSpace(r.Sender) == "" || strings.TrimSpace(r.SelectedID) == "" {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "sender and selected_id are required")
		}
		return channel.ButtonTap{
			Sender:     strings.TrimSpace(r.Sender),
			SenderName: r.SenderName,
			ChatID:     chatID,
			SelectedID: r.SelectedID,
		}, nil
	default:
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unknown event type: "+r.Type)
	}
}

// PostEvent injects one inbound event.
func (h *LocalChannelHandler) PostEvent(c echo.Context) error {
	var req LocalEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	event, err := req.event()
	if err != nil {
		return err
	}
	if err := h.adapter.Inject(event); err != nil {
		if errors.Is(err, local.ErrNotConnected) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued", "kind": string(event.Kind())})
}

type rosterRequest struct {
	Members []channel.RosterMember `json:"members"`
}

// PutRoster replaces the roster of a local group chat.
func (h *LocalChannelHandler) PutRoster(c echo.Context) error {
	chatID := strings.TrimSpace(c.Param("chat"))
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat is required")
	}
	var req rosterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.adapter.SetRoster(chatID, req.Members)
	return c.NoContent(http.StatusNoContent)
}

// GetOutbox lists recorded outbound calls after the optional since sequence.
func (h *LocalChannelHandler) GetOutbox(c echo.Context) error {
	var since int64
	if raw := strings.TrimSpace(c.QueryParam("since")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be a non-negative integer")
		}
		since = parsed
	}
	return c.JSON(http.StatusOK, map[string]any{"items": h.adapter.Outbox(since)})
}

// Stream upgrades to a WebSocket and pushes every new outbox entry as JSON.
func (h *LocalChannelHandler) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	entries, cancel := h.adapter.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(localWriteTimeout))
			if err := conn.WriteJSON(entry); err != nil {
				h.logger.Debug("stream write failed", slog.Any("error", err))
				return nil
			}
		}
	}
}
