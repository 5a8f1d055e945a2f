// Package recipients parses uploaded recipient lists and holds the current one.
package recipients

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/infodancer/relayd/internal/identity"
)

// ErrNoList is returned when no recipient list has been uploaded.
var ErrNoList = errors.New("no recipient list uploaded")

// Parse splits payload into addresses, one per line. LF, CRLF and bare CR
// all end a line. Surrounding whitespace is trimmed and blank lines dropped. Addresses are not
// validated; duplicates and order are preserved.
func Parse(payload []byte) []string {
	text := strings.ReplaceAll(string(payload), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		addr := strings.TrimSpace(line)
		if addr == "" {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// List is an uploaded recipient list.
type List struct {
	Addresses  []string
	UploadedBy identity.Identity
	UploadedAt time.Time
}

// Len returns the number of addresses.
func (l List) Len() int {
	return len(l.Addresses)
}

// Store holds the single current list. A new upload replaces the previous
// one wholesale.
type Store struct {
	mu      sync.RWMutex
	current *List
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the current list unconditionally. An empty list is valid
// and dispatches to nobody.
func (s *Store) Set(l List) {
	l.Addresses = append([]string(nil), l.Addresses...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &l
}

// SetFromUpload parses payload and stores the result as the current list.
func (s *Store) SetFromUpload(payload []byte, by identity.Identity, at time.Time) List {
	l := List{Addresses: Parse(payload), UploadedBy: by, UploadedAt: at}
	s.Set(l)
	return l
}

// Current returns a copy of the current list, or ErrNoList.
func (s *Store) Current() (List, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return List{}, ErrNoList
	}
	l := *s.current
	l.Addresses = append([]string(nil), l.Addresses...)
	return l, nil
}

// Clear forgets the current list.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}
