package sink

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"sync"

	"github.com/google/uuid"
)

// ConnectionSink is the outbound side of one persistent connection.
// Consume never blocks: the transport drains Outbound at its own pace and a
// full buffer is reported to the hub, which then disconnects the client.
type ConnectionSink struct {
	id       string
	outbound chan event.DomainEvent
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	hooks  []func()
}

func NewConnectionSink(bufferSize int) *ConnectionSink {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &ConnectionSink{
		id:       uuid.NewString(),
		outbound: make(chan event.DomainEvent, bufferSize),
		done:     make(chan struct{}),
	}
}

func (s *ConnectionSink) ID() string {
	return s.id
}

func (s *ConnectionSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSinkClosed
	}
	select {
	case s.outbound <- e:
		return nil
	default:
		return errors.ErrSinkFull
	}
}

// Outbound is drained by the transport write loop.
func (s *ConnectionSink) Outbound() <-chan event.DomainEvent {
	return s.outbound
}

// Done is closed once the connection is closed.
func (s *ConnectionSink) Done() <-chan struct{} {
	return s.done
}

func (s *ConnectionSink) OnDisconnect(hook func()) {
	s.mu.Lock()
	if !s.closed {
		s.hooks = append(s.hooks, hook)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	hook()
}

// Close is idempotent. Hooks run once, outside the lock.
func (s *ConnectionSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	hooks := s.hooks
	s.hooks = nil
	close(s.done)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
}
