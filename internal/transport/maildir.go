package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/infodancer/msgstore"
	_ "github.com/infodancer/msgstore/maildir" // register maildir backend
)

// LocalDomain is appended to addresses without a domain so they map to
// a local mailbox.
const LocalDomain = "localhost"

// Maildir writes each message into a local maildir, one mailbox per
// recipient address.
type Maildir struct {
	agent msgstore.DeliveryAgent
	from  string
	base  string // when set, mailbox directories are created on demand
	now   func() time.Time
}

// NewMaildir wraps an existing delivery agent.
func NewMaildir(agent msgstore.DeliveryAgent, from string) *Maildir {
	if from == "" {
		from = "relayd@" + LocalDomain
	}
	return &Maildir{agent: agent, from: from, now: time.Now}
}

// OpenMaildir opens a maildir store rooted at path.
func OpenMaildir(path, from string) (*Maildir, error) {
	if path == "" {
		return nil, errors.New("maildir path is required")
	}
	store, err := msgstore.Open(msgstore.StoreConfig{
		Type:     "maildir",
		BasePath: path,
		Options: map[string]string{
			"maildir_subdir": "Maildir",
			"path_template":  "{localpart}",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening maildir store: %w", err)
	}
	m := NewMaildir(store, from)
	m.base = path
	return m, nil
}

// Send delivers msg. The confirmation id is the Message-ID.
func (m *Maildir) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", permanent(msg.To, ErrEmptyAddress)
	}

	rcpt := mailbox(msg.To)
	if m.base != "" {
		if err := m.ensureMailbox(rcpt); err != nil {
			return "", err
		}
	}
	id := newMessageID(domainOf(m.from))
	now := m.now()
	data := buildMessage(mailHeader{
		From: m.from,
		To:   rcpt,
		Date: now,
		ID:   id,
	}, msg.Body)

	envelope := msgstore.Envelope{
		From:         m.from,
		Recipients:   []string{rcpt},
		ReceivedTime: now,
	}
	if err := m.agent.Deliver(ctx, envelope, bytes.NewReader(data)); err != nil {
		return "", temporary(msg.To, fmt.Errorf("maildir delivery: %w", err))
	}
	return id, nil
}

// ensureMailbox creates the cur, new and tmp directories for rcpt.
func (m *Maildir) ensureMailbox(rcpt string) error {
	local := rcpt[:strings.LastIndex(rcpt, "@")]
	if local == "" || local == "." || local == ".." || strings.ContainsAny(local, "/\\") {
		return permanent(rcpt, fmt.Errorf("invalid mailbox name %q", local))
	}
	dir := filepath.Join(m.base, local, "Maildir")
	for _, sub := range []string{"cur", "new", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return temporary(rcpt, fmt.Errorf("create mailbox: %w", err))
		}
	}
	return nil
}

// mailbox maps an address to a deliverable mailbox name.
func mailbox(addr string) string {
	if strings.Contains(addr, "@") {
		return addr
	}
	return addr + "@" + LocalDomain
}
