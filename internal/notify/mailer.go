// Package notify batches queued notification entries into digest emails
// on each project's or user's schedule, with cancellation re-checks,
// bounded per-recipient fan-out and a fast-retry path for transient
// transport failures.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Message is the outbound email contract.
type Message struct {
	To      []string
	Bcc     []string
	Subject string
	HTML    string
}

// SendResult is the per-send outcome; Error is set when Success is
// false.
type SendResult struct {
	Success bool
	Error   string
}

// Mailer is the single capability this engine consumes for delivery.
type Mailer interface {
	Send(ctx context.Context, msg Message) SendResult
}

// SMTPMailer delivers through a plain SMTP relay.
type SMTPMailer struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
}

func NewSMTPMailer(addr, from, user, pass string) *SMTPMailer {
	m := &SMTPMailer{Addr: addr, From: from}
	if user != "" {
		host := addr
		if i := strings.IndexByte(addr, ':'); i >= 0 {
			host = addr[:i]
		}
		m.Auth = smtp.PlainAuth("", user, pass, host)
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) SendResult {
	if len(msg.To) == 0 {
		return SendResult{Error: "no recipients"}
	}
	rcpts := append(append([]string{}, msg.To...), msg.Bcc...)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(msg.HTML)

	if err := smtp.SendMail(m.Addr, m.Auth, m.From, rcpts, []byte(b.String())); err != nil {
		return SendResult{Error: err.Error()}
	}
	return SendResult{Success: true}
}
