// Package identity defines the canonical form of requester identities.
//
// Inbound transports hand identities to the relay in whatever shape their
// API uses (Telegram chat ids are int64, command arguments are strings,
// stored registries may hold either). Every ingress path converts to an
// Identity with Parse or FromInt64 before any registry lookup so that
// "42", " 42", "+42" and 42 all name the same requester.
package identity

import (
	"errors"
	"strconv"
	"strings"
)

// ErrEmpty is returned when an identity is blank after trimming.
var ErrEmpty = errors.New("empty identity")

// Identity is the canonical textual form of a requester handle.
type Identity string

// String returns the identity as a plain string.
func (id Identity) String() string {
	return string(id)
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == ""
}

// FromInt64 converts a numeric handle to its canonical form.
func FromInt64(n int64) Identity {
	return Identity(strconv.FormatInt(n, 10))
}

// Parse canonicalizes a textual handle. Numeric handles are reduced to
// their base-10 integer form; anything else is kept verbatim after
// trimming surrounding whitespace.
func Parse(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmpty
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FromInt64(n), nil
	}
	return Identity(s), nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// compile-time constants.
func MustParse(s string) Identity {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Int64 returns the numeric value of a numeric identity.
func (id Identity) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
