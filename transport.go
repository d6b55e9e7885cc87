package hublink

import (
	"context"
	"net/http"
	"time"
)

// Hub methods a Service invokes on the remote endpoint.
const (
	MethodSendMessage         = "SendMessage"
	MethodDeleteMessage       = "DeleteMessage"
	MethodSendTypingIndicator = "SendTypingIndicator"
)

// Events the remote endpoint pushes to the client. A Transport routes each
// of them into the matching Handlers slot.
const (
	EventReceiveMessage      = "ReceiveMessage"
	EventConversationUpdated = "ConversationUpdated"
	EventTypingSignal        = "TypingSignal"
)

// TransportState is the connection state a Transport reports.
type TransportState int

const (
	TransportDisconnected TransportState = iota
	TransportConnecting
	TransportConnected
	TransportReconnecting
)

func (t TransportState) String() string {
	switch t {
	case TransportDisconnected:
		return "disconnected"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// RetryContext describes one decision point in the transport's automatic
// reconnect sequence.
type RetryContext struct {
	// PreviousRetryCount is the number of reconnect attempts already made.
	PreviousRetryCount int
	// Elapsed is the time spent reconnecting so far.
	Elapsed time.Duration
	// Reason is the error that triggered the reconnect.
	Reason error
}

// RetryPolicy decides if and when the transport makes its next automatic
// reconnect attempt. ok = false ends the reconnect sequence; the transport
// then closes for good and calls the OnClose handler.
type RetryPolicy interface {
	NextRetryDelay(retryContext RetryContext) (delay time.Duration, ok bool)
}

// Handlers is the fixed set of hook slots a Transport notifies. The service
// fills them during initialization; a Transport ignores unset slots.
type Handlers struct {
	OnReceiveMessage      func(message Message)
	OnConversationUpdated func(update ConversationUpdate)
	OnTypingSignal        func(signal TypingSignal)

	// OnClose fires when the connection is gone and the transport will not
	// reconnect on its own. err is nil for an ordered shutdown.
	OnClose func(err error)
	// OnReconnecting fires when the transport has lost the connection and
	// starts its reconnect sequence.
	OnReconnecting func(err error)
	// OnReconnected fires when the reconnect sequence succeeded.
	// connectionID identifies the new connection.
	OnReconnected func(connectionID string)
}

// Config carries everything a Factory needs to build a Transport.
type Config struct {
	// Address is the endpoint URL of the hub.
	Address string
	// TokenProvider returns the bearer token the transport authenticates with.
	TokenProvider func(ctx context.Context) (string, error)
	// Headers provides additional request headers, including the
	// Authorization header built from the TokenProvider.
	Headers func() http.Header
	// RetryPolicy controls the transport's automatic reconnects.
	RetryPolicy RetryPolicy
	// Handlers receive inbound events and connection lifecycle notifications.
	Handlers Handlers
}

// Factory builds the Transport a Service connects through. ctx can be used
// to cancel the setup of the Transport, but not the Transport itself.
type Factory func(ctx context.Context, config Config) (Transport, error)

// Transport is the bidirectional connection to the hub. Implementations own
// the wire protocol and the automatic reconnect sequence; the Service using
// the Transport only drives its lifecycle and invokes hub methods on it.
type Transport interface {
	// Start opens the connection. It can be called again after Stop or
	// after a failed Start.
	Start(ctx context.Context) error
	// Stop closes the connection.
	Stop(ctx context.Context) error
	// Invoke calls a hub method and returns its result.
	Invoke(ctx context.Context, method string, arguments ...interface{}) (interface{}, error)
	// State returns the current connection state.
	State() TransportState
	// ConnectionID identifies the current connection. It changes when the
	// transport reconnects.
	ConnectionID() string
	// Context is canceled when the transport is permanently closed.
	Context() context.Context
}
