// Package statechecker reports on the consistency of the in-memory policy state.
package statechecker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/memohai/warden/internal/healthcheck"
	"github.com/memohai/warden/internal/policy"
)

const checkTypeRegistration = "state.registration"

// SnapshotSource exposes the current policy state.
type SnapshotSource interface {
	Snapshot() policy.State
}

// Checker verifies that the registered set and the user records agree.
type Checker struct {
	logger *slog.Logger
	source SnapshotSource
}

// NewChecker creates a policy state checker.
func NewChecker(log *slog.Logger, source SnapshotSource) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_state")),
		source: source,
	}
}

func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil || c.source == nil {
		return []healthcheck.CheckResult{}
	}
	state := c.source.Snapshot()
	missingRecord, missingRegistration := policy.CheckInvariant(state)
	item := healthcheck.CheckResult{
		ID:      checkTypeRegistration,
		Type:    checkTypeRegistration,
		Status:  healthcheck.StatusOK,
		Summary: fmt.Sprintf("%d registered users, %d groups.", len(state.Registered), len(state.Groups)),
	}
	if n := len(missingRecord) + len(missingRegistration); n > 0 {
		c.logger.Warn("registration state diverged",
			slog.Any("missing_record", missingRecord),
			slog.Any("missing_registration", missingRegistration),
		)
		item.Status = healthcheck.StatusError
		item.Summary = fmt.Sprintf("Registration state has %d inconsistencies.", n)
		item.Metadata = map[string]any{
			"missing_record":       missingRecord,
			"missing_registration": missingRegistration,
		}
	}
	return []healthcheck.CheckResult{item}
}
