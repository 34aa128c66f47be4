// Package broadcast sends one text to every known user, one at a time with a
// fixed pause between sends.
package broadcast

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/identity"
)

// MinDelay is the smallest pause allowed between two sends.
const MinDelay = 500 * time.Millisecond

// Summary counts the outcome of one broadcast run.
type Summary struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Total   int `json:"total"`
}

// RecipientSource lists the identities a broadcast reaches.
type RecipientSource interface {
	Recipients() []string
}

// Sleeper pauses between sends; it returns early with ctx's error when ctx
// is cancelled.
type Sleeper func(ctx context.Context, d time.Duration) error

// Pipeline runs broadcasts. It performs no authorization.
type Pipeline struct {
	source RecipientSource
	delay  time.Duration
	sleep  Sleeper
	logger *slog.Logger
}

// New creates a Pipeline. Delays below MinDelay are raised to MinDelay.
func New(log *slog.Logger, source RecipientSource, delay time.Duration) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		source: source,
		delay:  max(delay, MinDelay),
		sleep:  sleepContext,
		logger: log.With(slog.String("component", "broadcast")),
	}
}

// WithSleeper replaces the pause implementation.
func (p *Pipeline) WithSleeper(s Sleeper) *Pipeline {
	if s != nil {
		p.sleep = s
	}
	return p
}

// Delay returns the pause between sends.
func (p *Pipeline) Delay() time.Duration {
	return p.delay
}

// Recipients returns the de-duplicated, sorted recipient identities.
func (p *Pipeline) Recipients() []string {
	ids := lo.Uniq(lo.Map(p.source.Recipients(), func(id string, _ int) string {
		return identity.Canonicalize(id)
	}))
	ids = lo.Filter(ids, func(id string, _ int) bool { return id != "" })
	sort.Strings(ids)
	return ids
}

// Broadcast sends text to every recipient's direct chat. A failed send is
// counted and logged and the run continues. If ctx is cancelled the run
// stops and the summary covers the attempted sends only; Total still reports
// the full recipient count.
func (p *Pipeline) Broadcast(ctx context.Context, transport channel.Transport, text string) Summary {
	recipients := p.Recipients()
	summary := Summary{Total: len(recipients)}
	p.logger.Info("broadcast start", slog.Int("recipients", summary.Total))

	for i, id := range recipients {
		if i > 0 {
			if err := p.sleep(ctx, p.delay); err != nil {
				p.logger.Warn("broadcast interrupted", slog.Int("sent", i), slog.Any("error", err))
				break
			}
		}
		if _, err := transport.SendText(ctx, identity.UserAddress(id), text, nil, nil); err != nil {
			summary.Failure++
			p.logger.Warn("broadcast send failed", slog.String("recipient", id), slog.Any("error", err))
			continue
		}
		summary.Success++
	}

	p.logger.Info("broadcast done",
		slog.Int("success", summary.Success),
		slog.Int("failure", summary.Failure),
		slog.Int("total", summary.Total),
	)
	return summary
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
