// Package mailbox decodes inbound MIME email and applies the sender allowlist.
package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

var (
	ErrSenderNotAllowed = errors.New("sender not allowed")
	ErrMalformed        = errors.New("malformed message")
)

// Message is the part of an email the pipeline cares about.
type Message struct {
	From    string
	Subject string
	Body    string
	Date    time.Time
	Size    int
}

// Decode parses raw MIME bytes. enmime handles multipart bodies and
// quoted-printable/base64 transfer encodings, and falls back to a text
// rendering of the HTML part when no text/plain part exists.
func Decode(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	msg := &Message{
		Subject: strings.TrimSpace(env.GetHeader("Subject")),
		Body:    html.UnescapeString(env.Text),
		Size:    len(raw),
	}
	if addrs, err := env.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.From = strings.ToLower(addrs[0].Address)
	}
	if d, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		msg.Date = d.UTC()
	}
	return msg, nil
}

// Allowlist holds exact addresses and "@domain" suffixes. An empty list
// admits everyone.
type Allowlist struct {
	addrs   map[string]bool
	domains []string
}

func NewAllowlist(entries []string) *Allowlist {
	a := &Allowlist{addrs: make(map[string]bool)}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		switch {
		case e == "":
		case strings.HasPrefix(e, "@"):
			a.domains = append(a.domains, e)
		default:
			a.addrs[e] = true
		}
	}
	return a
}

func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.addrs) == 0 && len(a.domains) == 0)
}

func (a *Allowlist) Allowed(addr string) bool {
	if a.Empty() {
		return true
	}
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return false
	}
	if a.addrs[addr] {
		return true
	}
	for _, d := range a.domains {
		if strings.HasSuffix(addr, d) {
			return true
		}
	}
	return false
}

// Check returns ErrSenderNotAllowed when m's sender is not admitted.
func (a *Allowlist) Check(m *Message) error {
	if !a.Allowed(m.From) {
		return fmt.Errorf("%w: %q", ErrSenderNotAllowed, m.From)
	}
	return nil
}
