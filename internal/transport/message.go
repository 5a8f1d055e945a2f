package transport

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"mime"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/google/uuid"
)

// mailHeader holds the fields of a generated text/plain message.
type mailHeader struct {
	From    string
	To      string
	Subject string
	Date    time.Time
	ID      string // without angle brackets
}

// newMessageID returns a unique Message-ID for host.
func newMessageID(host string) string {
	if host == "" {
		host = "localhost"
	}
	return uuid.NewString() + "@" + host
}

// buildMessage renders an RFC 5322 message with CRLF line endings.
func buildMessage(h mailHeader, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", h.From)
	fmt.Fprintf(&b, "To: %s\r\n", h.To)
	if h.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", h.Subject))
	}
	fmt.Fprintf(&b, "Date: %s\r\n", h.Date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s>\r\n", h.ID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")

	body = strings.ReplaceAll(body, "\r\n", "\n")
	for _, line := range strings.Split(body, "\n") {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

// domainOf returns the part of addr after the last '@'.
func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// dkimSigner signs outgoing messages.
type dkimSigner struct {
	domain   string
	selector string
	key      crypto.Signer
}

// loadDKIMSigner reads a PEM private key (PKCS#1, PKCS#8 RSA or Ed25519).
func loadDKIMSigner(domain, selector, keyFile string) (*dkimSigner, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read dkim key: %w", err)
	}
	key, err := parsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse dkim key %s: %w", keyFile, err)
	}
	return &dkimSigner{domain: domain, selector: selector, key: key}, nil
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
}

// sign returns msg with a DKIM-Signature header prepended.
func (s *dkimSigner) sign(msg []byte) ([]byte, error) {
	var out bytes.Buffer
	opts := &dkim.SignOptions{
		Domain:   s.domain,
		Selector: s.selector,
		Signer:   s.key,
		HeaderKeys: []string{
			"From", "To", "Subject", "Date", "Message-ID",
			"MIME-Version", "Content-Type",
		},
	}
	if err := dkim.Sign(&out, bytes.NewReader(msg), opts); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
