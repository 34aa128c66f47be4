package channel

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// ErrUnknownChannel is returned for a channel type no adapter serves.
var ErrUnknownChannel = errors.New("unknown channel type")

// Binding is the resolved surface of one adapter.
type Binding struct {
	Descriptor Descriptor
	Transport  Transport
	Receiver   Receiver
}

// Registry maps channel types to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ChannelType]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[ChannelType]Adapter{}}
}

// Register adds an adapter. Types are compared case-insensitively.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter is nil")
	}
	ct := normalizeChannelType(adapter.Type().String())
	if ct == "" {
		return errors.New("adapter has no channel type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.adapters[ct]; dup {
		return fmt.Errorf("channel %s registered twice", ct)
	}
	r.adapters[ct] = adapter
	return nil
}

// MustRegister is Register for startup wiring.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Types lists the registered channel types in sorted order.
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	types := lo.Keys(r.adapters)
	r.mu.RUnlock()
	slices.Sort(types)
	return types
}

// ParseChannelType maps a configured name to a registered type.
func (r *Registry) ParseChannelType(raw string) (ChannelType, error) {
	ct := normalizeChannelType(raw)
	r.mu.RLock()
	_, ok := r.adapters[ct]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w %q (known: %v)", ErrUnknownChannel, raw, r.Types())
	}
	return ct, nil
}

// Bind resolves the transport and receiver of a channel type. An adapter
// missing either is rejected.
func (r *Registry) Bind(channelType ChannelType) (Binding, error) {
	ct := normalizeChannelType(channelType.String())
	r.mu.RLock()
	adapter, ok := r.adapters[ct]
	r.mu.RUnlock()
	if !ok {
		return Binding{}, fmt.Errorf("%w %q", ErrUnknownChannel, channelType)
	}
	transport, ok := adapter.(Transport)
	if !ok {
		return Binding{}, fmt.Errorf("channel %s has no outbound transport", ct)
	}
	receiver, ok := adapter.(Receiver)
	if !ok {
		return Binding{}, fmt.Errorf("channel %s cannot receive events", ct)
	}
	return Binding{Descriptor: adapter.Descriptor(), Transport: transport, Receiver: receiver}, nil
}
