package bot

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// MaxPrefixLen is the longest accepted command prefix, in characters.
const MaxPrefixLen = 2

// Prefix is the active command prefix. It is read on every event and
// changed only by the owner.
type Prefix struct {
	mu    sync.RWMutex
	value string
}

// NewPrefix creates a holder with an initial value.
func NewPrefix(initial string) *Prefix {
	return &Prefix{value: initial}
}

// Get returns the active prefix.
func (p *Prefix) Get() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set replaces the prefix and returns the previous one.
func (p *Prefix) Set(next string) (string, error) {
	if err := ValidatePrefix(next); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.value
	p.value = next
	return old, nil
}

// ValidatePrefix accepts one or two non-space characters.
func ValidatePrefix(p string) error {
	n := utf8.RuneCountInString(p)
	if n < 1 || n > MaxPrefixLen {
		return fmt.Errorf("prefix must be 1-%d characters", MaxPrefixLen)
	}
	if strings.IndexFunc(p, unicode.IsSpace) >= 0 {
		return fmt.Errorf("prefix must not contain whitespace")
	}
	return nil
}
