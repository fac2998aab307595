package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/template"
)

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPTransport sends plain-text email. Recipients come from the channel's
// "to" setting (comma separated).
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	sendMail sendMailFunc
}

func NewSMTPTransport(host string, port int, username, password, from string) *SMTPTransport {
	return &SMTPTransport{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		sendMail: smtp.SendMail,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, ch types.Channel, c template.Rendered, _ types.Alert) error {
	to := splitList(ch.Setting("to"))
	if len(to) == 0 {
		return fmt.Errorf("email: no recipients configured")
	}
	if t.Host == "" {
		return fmt.Errorf("email: smtp host not configured")
	}

	var auth smtp.Auth
	if t.Username != "" {
		auth = smtp.PlainAuth("", t.Username, t.Password, t.Host)
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	msg := buildMessage(t.From, to, c, time.Now())

	// smtp.SendMail has no context; run it aside so ctx still bounds the call.
	done := make(chan error, 1)
	go func() { done <- t.sendMail(addr, auth, t.From, to, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("email: send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email: %w", ctx.Err())
	}
}

func buildMessage(from string, to []string, c template.Rendered, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.ReplaceAll(c.Subject, "\n", " "))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(c.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
