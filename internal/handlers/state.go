package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/policy"
	"github.com/memohai/warden/internal/version"
)

// StatsSource reports policy state counts.
type StatsSource interface {
	Stats() policy.Stats
}

// PrefixSource reports the active command prefix.
type PrefixSource interface {
	Get() string
}

// StatusSource reports the active channel connection.
type StatusSource interface {
	Status() channel.ConnectionStatus
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Version   string                   `json:"version"`
	Prefix    string                   `json:"prefix"`
	Stats     policy.Stats             `json:"stats"`
	Channel   channel.ConnectionStatus `json:"channel"`
	StartedAt time.Time                `json:"started_at"`
	Uptime    string                   `json:"uptime"`
}

// StateHandler exposes a read-only summary of the running bot.
type StateHandler struct {
	logger    *slog.Logger
	stats     StatsSource
	prefix    PrefixSource
	status    StatusSource
	startedAt time.Time
	now       func() time.Time
}

// NewStateHandler creates a StateHandler.
func NewStateHandler(log *slog.Logger, stats StatsSource, prefix PrefixSource, status StatusSource) *StateHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StateHandler{
		logger:    log.With(slog.String("handler", "state")),
		stats:     stats,
		prefix:    prefix,
		status:    status,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

func (h *StateHandler) Register(e *echo.Echo) {
	e.GET("/api/state", h.GetState)
}

// GetState returns counts, the active prefix and the channel status.
func (h *StateHandler) GetState(c echo.Context) error {
	if h.stats == nil || h.prefix == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "state not configured")
	}
	resp := StateResponse{
		Version:   version.Version,
		Prefix:    h.prefix.Get(),
		Stats:     h.stats.Stats(),
		StartedAt: h.startedAt.UTC(),
		Uptime:    h.now().Sub(h.startedAt).Round(time.Second).String(),
	}
	if h.status != nil {
		resp.Channel = h.status.Status()
	}
	return c.JSON(http.StatusOK, resp)
}
