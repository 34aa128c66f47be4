package policy

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Store is the in-memory policy state with write-through persistence. Every
// mutation is flushed before the call returns; the mutex is held across the
// mutation and the flush so concurrent readers never observe a half-applied
// change.
type Store struct {
	mu         sync.Mutex
	persister  Persister
	logger     *slog.Logger
	now        func() time.Time
	registered map[string]struct{}
	users      map[string]UserRecord
	groups     map[string]GroupSettings
}

// NewStore creates an empty Store backed by persister. A nil persister keeps
// the state in memory only.
func NewStore(log *slog.Logger, persister Persister) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		persister:  persister,
		logger:     log.With(slog.String("component", "policy")),
		now:        time.Now,
		registered: map[string]struct{}{},
		users:      map[string]UserRecord{},
		groups:     map[string]GroupSettings{},
	}
}

// Load replaces the in-memory state with the persisted record. On failure the
// store is reset to an empty state and a *PersistenceError is returned; the
// store remains usable and later mutations still attempt to save.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registered = map[string]struct{}{}
	s.users = map[string]UserRecord{}
	s.groups = map[string]GroupSettings{}
	if s.persister == nil {
		return nil
	}
	state, err := s.persister.Load(ctx)
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}
	s.apply(state)
	return nil
}

// apply installs state and repairs a diverged registered set: every identity
// that appears on either side ends up with both a registration and a record.
func (s *Store) apply(state State) {
	for id, rec := range state.Users {
		s.users[id] = rec
		s.registered[id] = struct{}{}
	}
	for _, id := range state.Registered {
		s.registered[id] = struct{}{}
		if _, ok := s.users[id]; !ok {
			s.logger.Warn("registered identity without record, repairing", slog.String("id", id))
			s.users[id] = UserRecord{Name: id, Level: DefaultLevel}
		}
	}
	for chat, settings := range state.Groups {
		s.groups[chat] = settings
	}
}

// IsRegistered reports whether id has completed registration.
func (s *Store) IsRegistered(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registered[id]
	return ok
}

// User returns the record for id.
func (s *Store) User(id string) (UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	return rec, ok
}

// Register creates the registration and user record for id in one step.
func (s *Store) Register(ctx context.Context, id, displayName string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registered[id]; ok {
		return UserRecord{}, ErrAlreadyRegistered
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "User"
	}
	rec := UserRecord{
		Name:             name,
		RegistrationDate: s.now().UTC(),
		Level:            DefaultLevel,
	}
	s.registered[id] = struct{}{}
	s.users[id] = rec
	s.flush(ctx, "register")
	return rec, nil
}

// GroupSettings returns the stored settings for chatID. Unset flags stay nil;
// use the Enabled accessors to resolve defaults.
func (s *Store) GroupSettings(chatID string) GroupSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[chatID]
}

// SetGroupFlag stores an explicit value for one flag of chatID.
func (s *Store) SetGroupFlag(ctx context.Context, chatID string, flag Flag, value bool) error {
	if _, err := ParseFlag(string(flag)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := s.groups[chatID]
	v := value
	switch flag {
	case FlagAntilink:
		settings.Antilink = &v
	case FlagWelcome:
		settings.Welcome = &v
	case FlagGoodbye:
		settings.Goodbye = &v
	}
	s.groups[chatID] = settings
	s.flush(ctx, "set_group_flag")
	return nil
}

// IncrementWarning bumps the warning count of a registered identity and
// returns the new count.
func (s *Store) IncrementWarning(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[id]
	if !ok {
		return 0, ErrNotRegistered
	}
	rec.Warns++
	s.users[id] = rec
	s.flush(ctx, "increment_warning")
	return rec.Warns, nil
}

// Recipients returns the union of registered identities and identities with
// a user record, sorted.
func (s *Store) Recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append(lo.Keys(s.registered), lo.Keys(s.users)...)
	ids = lo.Uniq(ids)
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of the current state in persisted form.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Stats returns entry counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Registered: len(s.registered),
		Users:      len(s.users),
		Groups:     len(s.groups),
	}
}

func (s *Store) snapshotLocked() State {
	registered := lo.Keys(s.registered)
	sort.Strings(registered)
	users := make(map[string]UserRecord, len(s.users))
	for id, rec := range s.users {
		users[id] = rec
	}
	groups := make(map[string]GroupSettings, len(s.groups))
	for chat, settings := range s.groups {
		groups[chat] = settings
	}
	return State{Registered: registered, Users: users, Groups: groups}
}

// flush saves the full state. A failed save is logged and the in-memory
// change is kept; the next mutation writes the full snapshot again.
func (s *Store) flush(ctx context.Context, op string) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, s.snapshotLocked()); err != nil {
		perr := &PersistenceError{Op: "save", Err: err}
		s.logger.Error("state flush failed", slog.String("op", op), slog.Any("error", perr))
	}
}
