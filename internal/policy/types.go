// Package policy holds the only durable state of the bot: which identities
// are registered and how each group is configured.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrAlreadyRegistered is returned by Register for a known identity.
	ErrAlreadyRegistered = errors.New("identity already registered")
	// ErrNotRegistered is returned when a user record is required but absent.
	ErrNotRegistered = errors.New("identity not registered")
	// ErrUnknownFlag is returned for a group flag name that does not exist.
	ErrUnknownFlag = errors.New("unknown group flag")
)

// DefaultLevel is the level assigned to every newly registered user.
const DefaultLevel = "user"

// UserRecord is created once per identity at registration time.
type UserRecord struct {
	Name             string    `json:"name"`
	RegistrationDate time.Time `json:"registrationDate"`
	Level            string    `json:"level"`
	Warns            int       `json:"warns"`
}

// GroupSettings keeps each flag tri-state: nil means "use the default".
type GroupSettings struct {
	Antilink *bool `json:"antilink,omitempty"`
	Welcome  *bool `json:"welcome,omitempty"`
	Goodbye  *bool `json:"goodbye,omitempty"`
}

// AntilinkEnabled defaults to off.
func (g GroupSettings) AntilinkEnabled() bool {
	return g.Antilink != nil && *g.Antilink
}

// WelcomeEnabled defaults to on.
func (g GroupSettings) WelcomeEnabled() bool {
	return g.Welcome == nil || *g.Welcome
}

// GoodbyeEnabled defaults to on.
func (g GroupSettings) GoodbyeEnabled() bool {
	return g.Goodbye == nil || *g.Goodbye
}

// Flag names a toggleable group setting.
type Flag string

const (
	FlagAntilink Flag = "antilink"
	FlagWelcome  Flag = "welcome"
	FlagGoodbye  Flag = "goodbye"
)

// ParseFlag validates a raw flag name.
func ParseFlag(raw string) (Flag, error) {
	switch f := Flag(strings.ToLower(strings.TrimSpace(raw))); f {
	case FlagAntilink, FlagWelcome, FlagGoodbye:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFlag, raw)
	}
}

// State is the persisted record. The JSON layout is kept stable so existing
// data files keep loading.
type State struct {
	Registered []string                 `json:"registered"`
	Users      map[string]UserRecord    `json:"users"`
	Groups     map[string]GroupSettings `json:"groups"`
}

// Persister loads and saves the whole State. Load of a store that holds no
// record yet returns an empty State and no error.
type Persister interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// PersistenceError reports a failed load or save of the policy state.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("policy state %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Stats summarizes the store for status reporting.
type Stats struct {
	Registered int `json:"registered"`
	Users      int `json:"users"`
	Groups     int `json:"groups"`
}

// CheckInvariant returns the identities that are registered without a user
// record and those that have a record without being registered.
func CheckInvariant(state State) (missingRecord, missingRegistration []string) {
	registered := make(map[string]struct{}, len(state.Registered))
	for _, id := range state.Registered {
		registered[id] = struct{}{}
		if _, ok := state.Users[id]; !ok {
			missingRecord = append(missingRecord, id)
		}
	}
	for id := range state.Users {
		if _, ok := registered[id]; !ok {
			missingRegistration = append(missingRegistration, id)
		}
	}
	sort.Strings(missingRegistration)
	return missingRecord, missingRegistration
}
