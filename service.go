package hublink

import (
	"context"
	"errors"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/teivah/onecontext"
)

// Service is the hub connection manager used by the rest of the process.
//  Start(ctx context.Context) error
// Start establishes the connection, retrying failed attempts with the
// configured backoff. Concurrent calls share one in-flight attempt.
//  Stop(ctx context.Context)
// Stop closes the connection. It is a no-op when not connected and never
// returns an error.
//  SendMessage(ctx context.Context, recipient string, content string) (SendReceipt, error)
// SendMessage hands a chat message to the hub for delivery to recipient.
//  DeleteMessage(ctx context.Context, messageID string) (bool, error)
// DeleteMessage asks the hub to delete a message and reports whether it did.
//  SendTypingIndicator(ctx context.Context, recipient string)
// SendTypingIndicator tells recipient that the local user is typing. It is
// best effort: not connected or failed invocations are not errors.
//  OnMessage, OnConversationUpdate, OnTypingSignal, OnConnectionStatus
// The On* methods register a subscriber for one event category and return
// the function that removes the registration again.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	SendMessage(ctx context.Context, recipient string, content string) (SendReceipt, error)
	DeleteMessage(ctx context.Context, messageID string) (bool, error)
	SendTypingIndicator(ctx context.Context, recipient string)
	OnMessage(callback func(Message)) func()
	OnConversationUpdate(callback func(ConversationUpdate)) func()
	OnTypingSignal(callback func(TypingSignal)) func()
	OnConnectionStatus(callback func(ConnectionStatus)) func()
	ConnectionState() State
	IsConnected() bool
}

// New builds a Service connecting to the hub at address through transports
// built by factory. The intended use is one Service per process, constructed
// at bootstrap and handed to everything that talks to the hub.
// ctx bounds every connection attempt and hub invocation the Service makes;
// canceling it aborts a running Start including its backoff waits. It does
// not close an established connection — that stays with Stop.
func New(ctx context.Context, address string, factory Factory, options ...Option) (Service, error) {
	if factory == nil {
		return nil, errors.New("factory is required")
	}
	info, dbg := defaultLoggers()
	s := &service{
		ctx:         ctx,
		address:     address,
		factory:     factory,
		policy:      DefaultBackoff(),
		maxAttempts: DefaultMaxReconnectAttempts,
		info:        info,
		dbg:         dbg,
	}
	for _, option := range options {
		if option != nil {
			if err := option(s); err != nil {
				return nil, err
			}
		}
	}
	if s.retryPolicy == nil {
		s.retryPolicy = boundedRetryPolicy{policy: s.policy, maxAttempts: s.maxAttempts}
	}
	if s.newBackOff == nil {
		policy, maxAttempts := s.policy, s.maxAttempts
		s.newBackOff = func() backoff.BackOff { return newPolicyBackOff(policy, maxAttempts) }
	}
	s.messages = newFanout[Message](s.info, s.dbg)
	s.updates = newFanout[ConversationUpdate](s.info, s.dbg)
	s.typing = newFanout[TypingSignal](s.info, s.dbg)
	s.status = newFanout[ConnectionStatus](s.info, s.dbg)
	s.sess = &session{svc: s}
	return s, nil
}

type service struct {
	ctx           context.Context
	address       string
	factory       Factory
	tokenProvider func(ctx context.Context) (string, error)
	headers       func() http.Header
	policy        Backoff
	maxAttempts   int
	retryPolicy   RetryPolicy
	newBackOff    func() backoff.BackOff
	info          StructuredLogger
	dbg           StructuredLogger

	messages *fanout[Message]
	updates  *fanout[ConversationUpdate]
	typing   *fanout[TypingSignal]
	status   *fanout[ConnectionStatus]

	sess *session
}

func (s *service) Start(ctx context.Context) error {
	return s.sess.start(ctx)
}

func (s *service) Stop(ctx context.Context) {
	s.sess.stop(ctx)
}

func (s *service) SendMessage(ctx context.Context, recipient string, content string) (SendReceipt, error) {
	result, err := s.invoke(ctx, MethodSendMessage, recipient, content)
	if err != nil {
		return SendReceipt{}, err
	}
	if receipt, ok := result.(SendReceipt); ok {
		return receipt, nil
	}
	return SendReceipt{Queued: true}, nil
}

func (s *service) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	result, err := s.invoke(ctx, MethodDeleteMessage, messageID)
	if err != nil {
		return false, err
	}
	// The hub answers with a bool when it can tell; any other successful
	// completion counts as deleted.
	if deleted, ok := result.(bool); ok {
		return deleted, nil
	}
	return true, nil
}

func (s *service) SendTypingIndicator(ctx context.Context, recipient string) {
	if !s.sess.isConnected() {
		return
	}
	if _, err := s.invoke(ctx, MethodSendTypingIndicator, recipient); err != nil {
		_, dbg := s.sess.loggers()
		_ = dbg.Log(evt, "typing indicator dropped", "error", err)
	}
}

// invoke calls a hub method on the established connection. The invocation is
// bounded by the caller's ctx, the lifetime of the Service and the lifetime
// of the connection.
func (s *service) invoke(ctx context.Context, method string, arguments ...interface{}) (interface{}, error) {
	transport, err := s.sess.connected()
	if err != nil {
		return nil, err
	}
	ctx, cancel := onecontext.Merge(ctx, s.ctx, transport.Context())
	defer cancel()
	result, err := transport.Invoke(ctx, method, arguments...)
	if err != nil {
		invokeErr := &InvokeError{Method: method, Err: err}
		info, _ := s.prefixLoggers(transport.ConnectionID())
		_ = info.Log(evt, "invoke failed", msg, method, "error", err)
		return nil, invokeErr
	}
	return result, nil
}

func (s *service) OnMessage(callback func(Message)) func() {
	return s.messages.subscribe(callback)
}

func (s *service) OnConversationUpdate(callback func(ConversationUpdate)) func() {
	return s.updates.subscribe(callback)
}

func (s *service) OnTypingSignal(callback func(TypingSignal)) func() {
	return s.typing.subscribe(callback)
}

func (s *service) OnConnectionStatus(callback func(ConnectionStatus)) func() {
	return s.status.subscribe(callback)
}

func (s *service) ConnectionState() State {
	return s.sess.state()
}

func (s *service) IsConnected() bool {
	return s.sess.isConnected()
}
