package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Processor consumes inbound events. It is called from a single goroutine,
// one event at a time, in arrival order.
type Processor interface {
	HandleInbound(ctx context.Context, transport Transport, env Envelope)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, transport Transport, env Envelope)

func (f ProcessorFunc) HandleInbound(ctx context.Context, transport Transport, env Envelope) {
	f(ctx, transport, env)
}

// ConnectionStatus describes runtime status of the active connection.
type ConnectionStatus struct {
	ChannelType ChannelType `json:"channel_type"`
	Running     bool        `json:"running"`
	Processed   int64       `json:"processed"`
	Queued      int         `json:"queued"`
	LastError   string      `json:"last_error,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Manager connects the active adapter and drains its events through one
// inbound worker.
type Manager struct {
	registry  *Registry
	processor Processor
	active    ChannelType
	logger    *slog.Logger

	inboundQueue chan Envelope
	workerDone   chan struct{}
	cancel       context.CancelFunc

	mu         sync.Mutex
	connection Connection
	status     ConnectionStatus
}

// NewManager creates a Manager that will serve the active channel type.
func NewManager(log *slog.Logger, registry *Registry, processor Processor, active ChannelType) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Manager{
		registry:     registry,
		processor:    processor,
		active:       normalizeChannelType(active.String()),
		logger:       log.With(slog.String("component", "channel")),
		inboundQueue: make(chan Envelope, 256),
		status:       ConnectionStatus{ChannelType: normalizeChannelType(active.String())},
	}
}

// Registry returns the adapter registry used by this manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Active returns the channel type this manager serves.
func (m *Manager) Active() ChannelType {
	return m.active
}

// Transport returns the outbound transport of the active channel.
func (m *Manager) Transport() (Transport, error) {
	binding, err := m.registry.Bind(m.active)
	if err != nil {
		return nil, err
	}
	return binding.Transport, nil
}

// Start launches the inbound worker and connects the active adapter.
func (m *Manager) Start(ctx context.Context) error {
	if m.processor == nil {
		return errors.New("channel manager has no processor")
	}
	binding, err := m.registry.Bind(m.active)
	if err != nil {
		return err
	}
	transport, receiver := binding.Transport, binding.Receiver

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.workerDone = make(chan struct{})
	go m.runWorker(workerCtx, transport)

	conn, err := receiver.Connect(ctx, m.enqueue)
	if err != nil {
		cancel()
		<-m.workerDone
		m.setStatus(false, err)
		return fmt.Errorf("connect %s: %w", m.active, err)
	}
	m.mu.Lock()
	m.connection = conn
	m.mu.Unlock()
	m.setStatus(true, nil)
	m.logger.Info("manager start", slog.String("channel", m.active.String()))
	return nil
}

// Stop disconnects the adapter and waits for the in-flight event to finish.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	conn := m.connection
	m.connection = nil
	m.mu.Unlock()

	var stopErr error
	if conn != nil {
		if err := conn.Stop(ctx); err != nil && !errors.Is(err, ErrStopNotSupported) {
			m.logger.Warn("adapter stop failed", slog.String("channel", conn.ChannelType().String()), slog.Any("error", err))
			stopErr = err
		}
	}
	if m.cancel != nil {
		m.cancel()
		select {
		case <-m.workerDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.setStatus(false, stopErr)
	m.logger.Info("manager stop", slog.String("channel", m.active.String()))
	return stopErr
}

// Status returns a snapshot of the connection status.
func (m *Manager) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.Queued = len(m.inboundQueue)
	return s
}

// Dispatch enqueues an event as if the active adapter had received it.
func (m *Manager) Dispatch(ctx context.Context, event InboundEvent) error {
	return m.enqueue(ctx, event)
}

func (m *Manager) enqueue(ctx context.Context, event InboundEvent) error {
	if event == nil {
		return errors.New("inbound event is nil")
	}
	env := Envelope{
		ID:         uuid.NewString(),
		Channel:    m.active,
		Event:      event,
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case m.inboundQueue <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) runWorker(ctx context.Context, transport Transport) {
	defer close(m.workerDone)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-m.inboundQueue:
			m.process(ctx, transport, env)
		}
	}
}

func (m *Manager) process(ctx context.Context, transport Transport, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("inbound processing panicked",
				slog.String("event_id", env.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
		m.mu.Lock()
		m.status.Processed++
		m.status.UpdatedAt = time.Now().UTC()
		m.mu.Unlock()
	}()
	m.processor.HandleInbound(ctx, transport, env)
}

func (m *Manager) setStatus(running bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Running = running
	m.status.UpdatedAt = time.Now().UTC()
	if err != nil {
		m.status.LastError = err.Error()
	} else {
		m.status.LastError = ""
	}
}
