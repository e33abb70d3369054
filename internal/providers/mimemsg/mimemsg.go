// Package mimemsg builds the RFC 5322 messages shared by the Gmail and SMTP
// transports.
package mimemsg

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Build assembles a plain-text message with From, To, Subject and Date
// headers set.
func Build(from, to, subject, body string) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: BareAddress(to)}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

// BareAddress strips a display name, returning just the address part of
// inputs like "John Doe <john@example.com>".
func BareAddress(s string) string {
	trimmed := strings.TrimSpace(s)
	if addr, err := netmail.ParseAddress(trimmed); err == nil {
		return addr.Address
	}
	return trimmed
}
