package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailChannel struct {
	addr     string
	from     string
	auth     smtp.Auth
	contacts ContactResolver
	sendMail sendMailFunc
}

func NewEmailChannel(cfg config.EmailConfig, contacts ContactResolver) *EmailChannel {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailChannel{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		from:     cfg.From,
		auth:     auth,
		contacts: contacts,
		sendMail: smtp.SendMail,
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, n core.Notification) error {
	if n.Staff || n.OwnerID == "" {
		return nil
	}
	email, _, err := c.contacts.Contact(ctx, n.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to resolve contact: %w", err)
	}
	if email == "" {
		return nil
	}

	msg := buildMessage(c.from, email, n)

	// net/smtp takes no context; give up waiting once ctx expires.
	done := make(chan error, 1)
	go func() {
		done <- c.sendMail(c.addr, c.auth, c.from, []string{email}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMessage(from, to string, n core.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", headerSafe(n.Title))
	fmt.Fprintf(&b, "Date: %s\r\n", n.Timestamp.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(n.Message)
	if n.JobID != "" {
		fmt.Fprintf(&b, "\r\n\r\nJob: %s\r\n", n.JobID)
	}
	return []byte(b.String())
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
