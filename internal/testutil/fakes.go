// Package testutil provides fakes for the relay's outbound collaborators.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/infodancer/msgstore"

	"github.com/infodancer/relayd/internal/identity"
	"github.com/infodancer/relayd/internal/transport"
)

// FakeClock is a manually driven clock. Sleep advances it instantly.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFakeClock returns a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d and records the call.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns the recorded sleep durations.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Sent is one message captured by RecordingSender.
type Sent struct {
	transport.Message
	At time.Time
}

// RecordingSender captures every send.
type RecordingSender struct {
	// Clock stamps each send. Nil uses time.Now.
	Clock interface{ Now() time.Time }
	// FailFor makes sends to the given addresses fail with the mapped error.
	FailFor map[string]error
	// Hold, when non-nil, blocks every send until it is closed.
	Hold chan struct{}
	// Started receives the address of each send as it begins, if non-nil.
	Started chan string

	mu   sync.Mutex
	sent []Sent
}

// Send records msg and returns a sequential confirmation id.
func (s *RecordingSender) Send(ctx context.Context, msg transport.Message) (string, error) {
	if s.Started != nil {
		s.Started <- msg.To
	}
	if s.Hold != nil {
		select {
		case <-s.Hold:
		case <-ctx.Done():
			return "", &transport.Error{Address: msg.To, Err: ctx.Err()}
		}
	}

	at := time.Now()
	if s.Clock != nil {
		at = s.Clock.Now()
	}

	s.mu.Lock()
	s.sent = append(s.sent, Sent{Message: msg, At: at})
	n := len(s.sent)
	s.mu.Unlock()

	if err, ok := s.FailFor[msg.To]; ok {
		return "", &transport.Error{Address: msg.To, Permanent: true, Err: err}
	}
	return fmt.Sprintf("msg-%d", n), nil
}

// Sent returns the captured sends in order.
func (s *RecordingSender) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// Addresses returns the captured recipient addresses in order.
func (s *RecordingSender) Addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.To
	}
	return out
}

// Notice is one notification captured by RecordingNotifier.
type Notice struct {
	To   identity.Identity
	Text string
}

// RecordingNotifier captures notifications.
type RecordingNotifier struct {
	// Err, if set, is returned from every Notify after recording.
	Err error

	mu      sync.Mutex
	notices []Notice
}

// Notify records the notification.
func (n *RecordingNotifier) Notify(ctx context.Context, to identity.Identity, text string) error {
	n.mu.Lock()
	n.notices = append(n.notices, Notice{To: to, Text: text})
	n.mu.Unlock()
	return n.Err
}

// Notices returns all captured notifications.
func (n *RecordingNotifier) Notices() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

// To returns the texts sent to id.
func (n *RecordingNotifier) To(id identity.Identity) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.notices {
		if m.To == id {
			out = append(out, m.Text)
		}
	}
	return out
}

// WaitFor blocks until a notification satisfying match arrives or the
// timeout passes. It reports whether one was seen.
func (n *RecordingNotifier) WaitFor(timeout time.Duration, match func(Notice) bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		for _, m := range n.Notices() {
			if match(m) {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ErrFileNotFound is returned by StaticFetcher for unknown references.
var ErrFileNotFound = errors.New("file not found")

// StaticFetcher serves uploaded files from memory.
type StaticFetcher struct {
	Files map[string][]byte
	Err   error
}

// Fetch returns the bytes stored under ref.
func (f *StaticFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	data, ok := f.Files[ref]
	if !ok {
		return nil, ErrFileNotFound
	}
	return data, nil
}

// Delivery is one message captured by RecordingDeliveryAgent.
type Delivery struct {
	Envelope msgstore.Envelope
	Data     []byte
}

// RecordingDeliveryAgent implements msgstore.DeliveryAgent for tests.
type RecordingDeliveryAgent struct {
	// ShouldError, if true, causes Deliver to fail.
	ShouldError bool
	// ErrorToReturn is returned when ShouldError is true.
	ErrorToReturn error

	mu         sync.Mutex
	deliveries []Delivery
}

// Deliver captures the envelope and message data.
func (a *RecordingDeliveryAgent) Deliver(ctx context.Context, envelope msgstore.Envelope, message io.Reader) error {
	if a.ShouldError {
		if a.ErrorToReturn != nil {
			return a.ErrorToReturn
		}
		return errors.New("delivery agent error")
	}

	data, err := io.ReadAll(message)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deliveries = append(a.deliveries, Delivery{Envelope: envelope, Data: data})
	return nil
}

// Deliveries returns the captured deliveries.
func (a *RecordingDeliveryAgent) Deliveries() []Delivery {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Delivery(nil), a.deliveries...)
}

// Reset clears captured state and error settings.
func (a *RecordingDeliveryAgent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deliveries = nil
	a.ShouldError = false
	a.ErrorToReturn = nil
}
