package channel

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrStopNotSupported is returned when a connection does not support graceful shutdown.
var ErrStopNotSupported = errors.New("channel connection stop not supported")

// InboundHandler is invoked by a receiver for every inbound event. Receivers
// call it synchronously so events keep their arrival order.
type InboundHandler func(ctx context.Context, event InboundEvent) error

// Capabilities lists optional features of a platform.
type Capabilities struct {
	Buttons      bool `json:"buttons"`
	Edit         bool `json:"edit"`
	Delete       bool `json:"delete"`
	Mentions     bool `json:"mentions"`
	AnnounceOnly bool `json:"announce_only"`
}

// Descriptor holds read-only metadata for a registered channel type.
type Descriptor struct {
	Type           ChannelType
	DisplayName    string
	Capabilities   Capabilities
	TextChunkLimit int
}

// Adapter identifies a platform. Adapters also implement Transport and Receiver.
type Adapter interface {
	Type() ChannelType
	Descriptor() Descriptor
}

// Receiver is an adapter that delivers inbound events over a long-lived connection.
type Receiver interface {
	Connect(ctx context.Context, handler InboundHandler) (Connection, error)
}

// Connection is a live link to a platform.
type Connection interface {
	ChannelType() ChannelType
	Stop(ctx context.Context) error
}

// BaseConnection is a Connection backed by a stop function. Stop runs the
// function at most once.
type BaseConnection struct {
	channelType ChannelType
	stop        func(ctx context.Context) error
	running     atomic.Bool
}

// NewConnection creates a BaseConnection for the given channel type and stop function.
func NewConnection(channelType ChannelType, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		channelType: channelType,
		stop:        stop,
	}
	conn.running.Store(true)
	return conn
}

// ChannelType returns the type of channel this connection serves.
func (c *BaseConnection) ChannelType() ChannelType {
	return c.channelType
}

// Stop gracefully shuts down the connection.
func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	if !c.running.Swap(false) {
		return nil
	}
	return c.stop(ctx)
}
