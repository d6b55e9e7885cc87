package hublink

import (
	"context"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

// Option configures a Service during New.
type Option func(*service) error

// Logger sets the logger used by the Service to log info events.
// If debug is true, debug log events are generated, too.
func Logger(logger StructuredLogger, debug bool) Option {
	return func(s *service) error {
		s.info, s.dbg = buildInfoDebugLogger(logger, debug)
		return nil
	}
}

// WithTokenProvider sets the function the Service fetches its bearer token
// from. Without a token provider the Service cannot authenticate and Start
// fails with ErrAuthenticationMissing.
func WithTokenProvider(provider func(ctx context.Context) (string, error)) Option {
	return func(s *service) error {
		s.tokenProvider = provider
		return nil
	}
}

// WithHTTPHeaders sets the function for providing additional request headers.
// The Authorization header is always set by the Service itself.
func WithHTTPHeaders(headers func() http.Header) Option {
	return func(s *service) error {
		s.headers = headers
		return nil
	}
}

// WithBackoff sets the delay policy for connection attempts.
// Default is DefaultBackoff.
func WithBackoff(policy Backoff) Option {
	return func(s *service) error {
		s.policy = policy
		return nil
	}
}

// WithMaxReconnectAttempts sets the number of retries after a failed
// connection attempt before Start gives up and before the transport ends
// its automatic reconnect sequence.
// Default is DefaultMaxReconnectAttempts.
func WithMaxReconnectAttempts(maxAttempts int) Option {
	return func(s *service) error {
		s.maxAttempts = maxAttempts
		return nil
	}
}

// WithBackoffFactory replaces the backoff consumed by the retry loop of
// Start. Each Start attempt sequence uses a fresh backoff from the factory;
// the loop ends when NextBackOff returns backoff.Stop.
func WithBackoffFactory(factory func() backoff.BackOff) Option {
	return func(s *service) error {
		s.newBackOff = factory
		return nil
	}
}

// WithRetryPolicy replaces the policy handed to the transport for its
// automatic reconnects. Default is the configured Backoff bounded by the
// maximum reconnect attempts.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(s *service) error {
		s.retryPolicy = policy
		return nil
	}
}
