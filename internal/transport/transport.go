// Package transport delivers a single message to a single address through
// an outbound provider.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Message is one outbound delivery.
type Message struct {
	To   string
	Body string
}

// Sender delivers one message and returns the provider's confirmation id.
// Failures are reported as *Error.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Error is a per-recipient delivery failure. Its message omits Address.
type Error struct {
	Address   string
	Permanent bool // the provider rejected the address or message
	Err       error
}

func (e *Error) Error() string {
	kind := "temporary"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("send failed (%s): %v", kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a permanent delivery failure.
func IsPermanent(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Permanent
}

func permanent(addr string, err error) error {
	return &Error{Address: addr, Permanent: true, Err: err}
}

func temporary(addr string, err error) error {
	return &Error{Address: addr, Err: err}
}

// ErrEmptyAddress is returned for a blank recipient.
var ErrEmptyAddress = errors.New("empty address")
