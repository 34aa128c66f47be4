// Package schedule takes periodic snapshots of the policy state.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memohai/warden/internal/policy"
	"github.com/memohai/warden/internal/storage/file"
)

const (
	backupPrefix = "warden_state-"
	backupSuffix = ".json"
	// DefaultKeep is the number of snapshots retained in the backup directory.
	DefaultKeep = 7
)

// SnapshotSource exposes the state to back up.
type SnapshotSource interface {
	Snapshot() policy.State
}

// Service writes a JSON snapshot of the policy state to a directory on a
// cron schedule and prunes old snapshots.
type Service struct {
	logger *slog.Logger
	source SnapshotSource
	dir    string
	spec   string
	keep   int
	now    func() time.Time
	cron   *cron.Cron
}

// NewService validates spec (standard five-field cron syntax) and builds a
// Service. An empty spec yields a Service whose Start is a no-op.
func NewService(log *slog.Logger, source SnapshotSource, dir, spec string) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	spec = strings.TrimSpace(spec)
	if spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("parse backup schedule %q: %w", spec, err)
		}
		if strings.TrimSpace(dir) == "" {
			return nil, fmt.Errorf("backup directory is required when a schedule is set")
		}
	}
	return &Service{
		logger: log.With(slog.String("component", "schedule")),
		source: source,
		dir:    dir,
		spec:   spec,
		keep:   DefaultKeep,
		now:    time.Now,
	}, nil
}

// Enabled reports whether a schedule is configured.
func (s *Service) Enabled() bool {
	return s.spec != ""
}

// Start registers the backup job and starts the scheduler.
func (s *Service) Start(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Info("backups disabled")
		return nil
	}
	s.cron = cron.New(cron.WithLogger(cronLogger{log: s.logger}))
	jobCtx := context.WithoutCancel(ctx)
	if _, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.Backup(jobCtx); err != nil {
			s.logger.Error("backup failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule backup: %w", err)
	}
	s.cron.Start()
	s.logger.Info("backups scheduled", slog.String("spec", s.spec), slog.String("dir", s.dir))
	return nil
}

// Stop stops the scheduler and waits for a running backup to finish or ctx to end.
func (s *Service) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backup writes one snapshot now and returns its path.
func (s *Service) Backup(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(s.source.Snapshot(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	name := backupPrefix + s.now().UTC().Format("20060102T150405Z") + backupSuffix
	path := filepath.Join(s.dir, name)
	if err := file.WriteAtomic(path, data); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	s.logger.Info("backup written", slog.String("path", path))
	if err := s.prune(); err != nil {
		s.logger.Warn("prune backups failed", slog.Any("error", err))
	}
	return path, nil
}

func (s *Service) prune() error {
	if s.keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), backupSuffix) {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.keep {
		return nil
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	for _, name := range names[:len(names)-s.keep] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
