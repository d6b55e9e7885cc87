package hublink

import "context"

// State is the connection state of a Service as published to
// OnConnectionStatus subscribers and returned by ConnectionState.
type State int

const (
	// StateDisconnected is the state before the first Start and after a Stop
	// or a terminal close of the transport.
	StateDisconnected State = iota
	// StateConnecting is published for every connection attempt a running
	// Start makes.
	StateConnecting
	// StateConnected is published when a connection attempt succeeds and
	// when the transport has reconnected on its own.
	StateConnected
	// StateReconnecting is published while the transport runs its internal
	// reconnect sequence after a connection loss.
	StateReconnecting
	// StateError is published after a failed connection attempt.
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ConnectionStatus describes one state transition of a Service. It is
// recomputed on every transition and never stored: Err carries the error
// that caused the transition, if any, and ConnectionID the identifier of
// the last known connection.
type ConnectionStatus struct {
	State        State
	ConnectionID string
	Err          error
}

// WaitForState returns a channel for waiting on the Service to reach a specific State.
// The channel either returns an error if ctx has been canceled
// or nil if the State waitFor was reached.
func WaitForState(ctx context.Context, svc Service, waitFor State) <-chan error {
	ch := make(chan error, 1)
	stateCh := make(chan struct{}, 1)
	unsubscribe := svc.OnConnectionStatus(func(ConnectionStatus) {
		select {
		case stateCh <- struct{}{}:
		default:
		}
	})
	go func() {
		defer close(ch)
		defer unsubscribe()
		for {
			if svc.ConnectionState() == waitFor {
				return
			}
			select {
			case <-stateCh:
			case <-ctx.Done():
				ch <- ctx.Err()
				return
			}
		}
	}()
	return ch
}
