package channelchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/healthcheck"
)

const checkTypeChannelConnection = "channel.connection"

// ConnectionObserver reads the runtime channel connection status.
type ConnectionObserver interface {
	Status() channel.ConnectionStatus
}

// Checker evaluates channel connection health.
type Checker struct {
	logger   *slog.Logger
	observer ConnectionObserver
}

// NewChecker creates a channel health checker.
func NewChecker(log *slog.Logger, observer ConnectionObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_channel")),
		observer: observer,
	}
}

// ListChecks reports whether the active channel is connected.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.observer == nil {
		c.logger.Warn("channel healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{
			{
				ID:      checkTypeChannelConnection + ".service",
				Type:    checkTypeChannelConnection,
				Status:  healthcheck.StatusWarn,
				Summary: "Channel checker service is not available.",
				Detail:  "connection observer is nil",
			},
		}
	}

	status := c.observer.Status()
	channelType := strings.TrimSpace(status.ChannelType.String())
	if channelType == "" {
		channelType = "unknown"
	}
	item := healthcheck.CheckResult{
		ID:      checkTypeChannelConnection + "." + channelType,
		Type:    checkTypeChannelConnection,
		Status:  healthcheck.StatusError,
		Summary: fmt.Sprintf("Channel %s connection is down.", channelType),
		Metadata: map[string]any{
			"channel_type": channelType,
			"running":      status.Running,
			"processed":    status.Processed,
			"queued":       status.Queued,
		},
	}
	if status.UpdatedAt.Unix() > 0 {
		item.Metadata["updated_at"] = status.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	if status.Running {
		item.Status = healthcheck.StatusOK
		item.Summary = fmt.Sprintf("Channel %s is connected.", channelType)
	} else if strings.TrimSpace(status.LastError) != "" {
		item.Summary = fmt.Sprintf("Channel %s connection failed.", channelType)
		item.Detail = strings.TrimSpace(status.LastError)
	}
	return []healthcheck.CheckResult{item}
}
