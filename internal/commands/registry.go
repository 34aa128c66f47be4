// Package commands is the registry of named bot actions and the access level
// each one requires.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDuplicateCommand is returned when a name or alias is registered twice.
var ErrDuplicateCommand = errors.New("command already registered")

// Access is the minimum privilege a sender needs to run a command.
type Access int

const (
	AccessAny Access = iota
	AccessRegistered
	AccessGroupAdmin
	AccessOwner
)

func (a Access) String() string {
	switch a {
	case AccessAny:
		return "any"
	case AccessRegistered:
		return "registered"
	case AccessGroupAdmin:
		return "group_admin"
	case AccessOwner:
		return "owner"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// Category groups commands in menus.
type Category string

const (
	CategoryMain  Category = "main"
	CategoryGroup Category = "group"
	CategoryOwner Category = "owner"
)

// Handler runs a command. The invocation value is supplied by the router.
type Handler[C any] func(ctx context.Context, inv C) error

// Spec describes one command.
type Spec[C any] struct {
	Name        string
	Aliases     []string
	Access      Access
	Category    Category
	Usage       string
	Description string
	Handler     Handler[C]
}

// Registry resolves command names and aliases to specs. It is filled at
// startup and read-only afterwards.
type Registry[C any] struct {
	specs   map[string]*Spec[C]
	aliases map[string]string
	order   []string
	allowed map[string]struct{}
}

// DefaultAllowList names the commands an unregistered sender may run.
var DefaultAllowList = []string{"menu", "register", "rules", "info", "donate", "owner", "ping", "profile"}

// NewRegistry creates an empty registry with the given allow-list.
func NewRegistry[C any](allowList []string) *Registry[C] {
	allowed := make(map[string]struct{}, len(allowList))
	for _, name := range allowList {
		allowed[normalize(name)] = struct{}{}
	}
	return &Registry[C]{
		specs:   map[string]*Spec[C]{},
		aliases: map[string]string{},
		allowed: allowed,
	}
}

// Register adds spec under its name and aliases.
func (r *Registry[C]) Register(spec Spec[C]) error {
	name := normalize(spec.Name)
	if name == "" {
		return errors.New("command name is required")
	}
	if spec.Handler == nil {
		return fmt.Errorf("command %s: handler is required", name)
	}
	if r.taken(name) {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	for _, alias := range spec.Aliases {
		if a := normalize(alias); a == "" || a == name || r.taken(a) {
			return fmt.Errorf("%w: alias %q of %s", ErrDuplicateCommand, alias, name)
		}
	}
	spec.Name = name
	stored := spec
	r.specs[name] = &stored
	for _, alias := range spec.Aliases {
		r.aliases[normalize(alias)] = name
	}
	r.order = append(r.order, name)
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry[C]) MustRegister(spec Spec[C]) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Resolve looks up a command by name or alias.
func (r *Registry[C]) Resolve(name string) (*Spec[C], bool) {
	key := normalize(name)
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	spec, ok := r.specs[key]
	return spec, ok
}

// Canonical returns the primary name for name or alias; unknown names are
// returned normalized.
func (r *Registry[C]) Canonical(name string) string {
	key := normalize(name)
	if canonical, ok := r.aliases[key]; ok {
		return canonical
	}
	return key
}

// AllowedWithoutRegistration reports whether name (or its alias) bypasses
// the registration gate.
func (r *Registry[C]) AllowedWithoutRegistration(name string) bool {
	_, ok := r.allowed[r.Canonical(name)]
	return ok
}

// AllowList returns the names that bypass the registration gate, sorted.
func (r *Registry[C]) AllowList() []string {
	out := make([]string, 0, len(r.allowed))
	for name := range r.allowed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// List returns specs in registration order.
func (r *Registry[C]) List() []*Spec[C] {
	out := make([]*Spec[C], 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// ByCategory returns the specs of one category in registration order.
func (r *Registry[C]) ByCategory(cat Category) []*Spec[C] {
	out := make([]*Spec[C], 0)
	for _, name := range r.order {
		if spec := r.specs[name]; spec.Category == cat {
			out = append(out, spec)
		}
	}
	return out
}

func (r *Registry[C]) taken(name string) bool {
	if _, ok := r.specs[name]; ok {
		return true
	}
	_, ok := r.aliases[name]
	return ok
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
