package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned when no channel becomes available
	// within the reservation wait limit. Retryable.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrChannelInvalid is returned when a channel fails validation
	// or has accumulated too many consecutive errors.
	ErrChannelInvalid = errors.New("channel invalid")

	// ErrPoolClosed is returned for reservations against a closed
	// pool.
	ErrPoolClosed = errors.New("connection pool closed")

	// ErrNotShared is returned when a call tries to reuse an already
	// reserved channel that does not allow sharing.
	ErrNotShared = errors.New("channel not shareable")
)

// ChannelError wraps a channel connect or validation failure with the
// owning connection id.
type ChannelError struct {
	Connection string
	Err        error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Connection, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
