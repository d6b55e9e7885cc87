package hublink

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationMissing is returned when no credential is available
	// to authenticate the connection.
	ErrAuthenticationMissing = errors.New("authentication missing")
	// ErrNotConnected is returned by hub operations that require an
	// established connection.
	ErrNotConnected = errors.New("not connected")
)

// ConnectError is returned by Start when the connection could not be
// established within the retry budget. It wraps the error of the final
// attempt, so the original failure stays reachable with errors.Is and
// errors.As.
type ConnectError struct {
	// Attempts is the number of connection attempts that were made.
	Attempts int
	Err      error
}

func (c *ConnectError) Error() string {
	return fmt.Sprintf("connection could not be established after %v attempts: %v", c.Attempts, c.Err)
}

func (c *ConnectError) Unwrap() error {
	return c.Err
}

// InvokeError is returned when invoking a hub method failed on an
// established connection.
type InvokeError struct {
	// Method is the hub method that was invoked.
	Method string
	Err    error
}

func (i *InvokeError) Error() string {
	return fmt.Sprintf("invoke %v: %v", i.Method, i.Err)
}

func (i *InvokeError) Unwrap() error {
	return i.Err
}
