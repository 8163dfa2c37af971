package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/leozw/agentpulse/internal/config"
)

// Mailer sends a plain-text message to one recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer talks to a relay with STARTTLS when offered and PLAIN auth when
// credentials are configured.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

// NewSMTPMailer returns nil when no host is configured.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	if cfg.Host == "" {
		return nil
	}
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("invalid header value")
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("sender identification: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("recipient designation: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("message transmission: %w", err)
	}
	if _, err := w.Write(buildMessage(m.cfg.From, to, subject, body, time.Now())); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message transmission: %w", err)
	}
	return c.Quit()
}

func buildMessage(from, to, subject, body string, date time.Time) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", date.Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return msg.Bytes()
}

var headerSafe = strings.NewReplacer("\r", " ", "\n", " ")

func renderEmail(alert Alert) (subject, body string) {
	subject = fmt.Sprintf("[AgentPulse] Alert: %s", headerSafe.Replace(alert.RuleName))
	body = fmt.Sprintf(`Your alert rule "%s" fired.

Metric:    %s
Value:     %s
Condition: %s %s %s
Fired at:  %s

Manage your alert rules in the AgentPulse dashboard.
`,
		alert.RuleName,
		alert.Metric,
		formatValue(alert.Value),
		alert.Metric, alert.Operator, formatValue(alert.Threshold),
		alert.FiredAt.UTC().Format(time.RFC3339),
	)
	return subject, body
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
