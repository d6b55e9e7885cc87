package hublink

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/teivah/onecontext"
	"golang.org/x/sync/singleflight"
)

// session owns the single Transport of a Service and serializes all
// lifecycle transitions on it. It is created together with its service and
// lives as long as the service does.
type session struct {
	svc *service

	mx           sync.Mutex
	transport    Transport
	current      State
	connectionID string

	group singleflight.Group
}

// initialize builds the Transport when none is cached. It is idempotent
// while a transport lives: later calls return immediately. A terminally
// closed transport is dropped in handleClose, so the next start runs the
// factory again. The bearer token is fetched here; without one the session
// cannot authenticate and ErrAuthenticationMissing is returned.
func (s *session) initialize(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.transport != nil {
		return nil
	}
	if s.svc.tokenProvider == nil {
		return ErrAuthenticationMissing
	}
	token, err := s.svc.tokenProvider(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthenticationMissing, err)
	}
	if token == "" {
		return ErrAuthenticationMissing
	}
	config := Config{
		Address:       s.svc.address,
		TokenProvider: s.svc.tokenProvider,
		Headers:       authHeaders(token, s.svc.headers),
		RetryPolicy:   s.svc.retryPolicy,
		Handlers: Handlers{
			OnReceiveMessage:      s.svc.messages.notifyAll,
			OnConversationUpdated: s.svc.updates.notifyAll,
			OnTypingSignal:        s.svc.typing.notifyAll,
			OnClose:               s.handleClose,
			OnReconnecting:        s.handleReconnecting,
			OnReconnected:         s.handleReconnected,
		},
	}
	transport, err := s.svc.factory(ctx, config)
	if err != nil {
		return err
	}
	s.transport = transport
	return nil
}

// authHeaders wraps the configured header overrides and attaches the bearer
// token to every outbound request.
func authHeaders(token string, overrides func() http.Header) func() http.Header {
	return func() http.Header {
		headers := http.Header{}
		if overrides != nil {
			for key, values := range overrides() {
				for _, value := range values {
					headers.Add(key, value)
				}
			}
		}
		headers.Set("Authorization", "Bearer "+token)
		return headers
	}
}

// start establishes the connection. Concurrent callers collapse onto the
// same in-flight attempt; the in-flight marker is cleared on every exit
// path, so a failed start never blocks a later one. The attempt is bounded
// by both the caller's ctx and the lifetime of the service.
func (s *session) start(ctx context.Context) error {
	_, err, _ := s.group.Do("start", func() (interface{}, error) {
		ctx, cancel := onecontext.Merge(ctx, s.svc.ctx)
		defer cancel()
		return nil, s.connect(ctx)
	})
	return err
}

// connect runs the outer retry loop around Transport.Start. Every attempt
// publishes connecting, a failed attempt publishes error, and success
// publishes connected with a fresh attempt counter. When the backoff policy
// stops handing out delays, a ConnectError wrapping the last attempt's
// failure is returned.
func (s *session) connect(ctx context.Context) error {
	if s.isConnected() {
		return nil
	}
	if err := s.initialize(ctx); err != nil {
		return err
	}
	s.mx.Lock()
	transport := s.transport
	s.mx.Unlock()
	info, dbg := s.loggers()
	bo := s.svc.newBackOff()
	bo.Reset()
	attempt := 0
	for {
		s.publish(ConnectionStatus{State: StateConnecting})
		err := transport.Start(ctx)
		if err == nil {
			bo.Reset()
			s.publish(ConnectionStatus{State: StateConnected, ConnectionID: transport.ConnectionID()})
			_ = info.Log(evt, "connected", "connection", transport.ConnectionID())
			return nil
		}
		attempt++
		s.publish(ConnectionStatus{State: StateError, Err: err})
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			connErr := &ConnectError{Attempts: attempt, Err: err}
			_ = info.Log(evt, "connect failed", "error", connErr, react, "give up")
			return connErr
		}
		_ = dbg.Log(evt, "connect failed", "error", err, react, "retry", "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &ConnectError{Attempts: attempt, Err: ctx.Err()}
		}
	}
}

// stop closes the transport. It is a no-op unless the session is connected.
// Close errors are reported but never returned; shutdown does not fail.
func (s *session) stop(ctx context.Context) {
	s.mx.Lock()
	transport := s.transport
	s.mx.Unlock()
	if transport == nil || transport.State() != TransportConnected {
		return
	}
	if err := transport.Stop(ctx); err != nil {
		info, _ := s.loggers()
		_ = info.Log(evt, "stop", "error", err, react, "ignore")
	}
	s.mx.Lock()
	stopped := s.current == StateDisconnected
	s.mx.Unlock()
	if !stopped {
		s.publish(ConnectionStatus{State: StateDisconnected})
	}
}

func (s *session) state() State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.current
}

func (s *session) isConnected() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.transport != nil && s.transport.State() == TransportConnected
}

// connected returns the transport for an outbound invocation, or
// ErrNotConnected when no established connection exists.
func (s *session) connected() (Transport, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.transport == nil || s.transport.State() != TransportConnected {
		return nil, ErrNotConnected
	}
	return s.transport, nil
}

// publish records the new state and notifies the status subscribers. The
// connection identifier of the last known connection is carried along when
// the transition itself has none.
func (s *session) publish(status ConnectionStatus) {
	s.mx.Lock()
	s.current = status.State
	if status.ConnectionID != "" {
		s.connectionID = status.ConnectionID
	} else {
		status.ConnectionID = s.connectionID
	}
	s.mx.Unlock()
	s.svc.status.notifyAll(status)
}

// Transport lifecycle hooks. The transport handles disruption-triggered
// reconnects itself; the session only mirrors them as status events.

func (s *session) handleReconnecting(err error) {
	info, _ := s.loggers()
	_ = info.Log(evt, "connection lost", "error", err, react, "transport reconnects")
	s.publish(ConnectionStatus{State: StateReconnecting, Err: err})
}

func (s *session) handleReconnected(connectionID string) {
	info, _ := s.loggers()
	_ = info.Log(evt, "reconnected", "connection", connectionID)
	s.publish(ConnectionStatus{State: StateConnected, ConnectionID: connectionID})
}

// handleClose drops the cached transport: its context is canceled for good
// once it closes, so a fresh start must run the factory again instead of
// reviving it.
func (s *session) handleClose(err error) {
	s.mx.Lock()
	closed := s.transport == nil && s.current == StateDisconnected
	s.transport = nil
	s.mx.Unlock()
	if closed {
		return
	}
	info, _ := s.loggers()
	_ = info.Log(evt, "connection closed", "error", err)
	s.publish(ConnectionStatus{State: StateDisconnected, Err: err})
}

func (s *session) loggers() (info StructuredLogger, dbg StructuredLogger) {
	s.mx.Lock()
	connectionID := s.connectionID
	s.mx.Unlock()
	return s.svc.prefixLoggers(connectionID)
}
