package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/jrsteele09/go-store-claimer/internal/config"
)

// Encryption modes accepted by the email channel.
const (
	EncNone     = "NONE"
	EncStartTLS = "STARTTLS"
	EncSSLTLS   = "SSL/TLS"
)

// Email sends plain-text mail over SMTP.
type Email struct {
	cfg config.EmailNotifierConfig
	enc string
}

func NewEmail(cfg config.EmailNotifierConfig) (*Email, error) {
	if cfg.SMTPHost == "" || cfg.To == "" {
		return nil, fmt.Errorf("smtp host and recipient are required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	enc := strings.ToUpper(strings.TrimSpace(cfg.Encryption))
	if enc != EncNone && enc != EncSSLTLS {
		enc = EncStartTLS
	}
	return &Email{cfg: cfg, enc: enc}, nil
}

func (e *Email) Name() string {
	return config.NotifierEmail
}

func (e *Email) Send(ctx context.Context, msg Message) error {
	recipients := splitAddresses(e.cfg.To)
	body := buildMail(e.cfg.From, recipients, msg)
	address := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)
	}

	if e.enc == EncNone {
		if err := smtp.SendMail(address, auth, e.cfg.From, recipients, body); err != nil {
			return fmt.Errorf("sendmail: %w", err)
		}
		return nil
	}

	d := net.Dialer{Timeout: 15 * time.Second}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until > 0 {
			d.Timeout = until
		}
	}

	var conn net.Conn
	var err error
	if e.enc == EncSSLTLS {
		conn, err = tls.DialWithDialer(&d, "tcp", address, &tls.Config{ServerName: e.cfg.SMTPHost})
	} else {
		conn, err = d.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	defer conn.Close() //nolint:errcheck

	c, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if e.enc == EncStartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: e.cfg.SMTPHost}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	return w.Close()
}

func splitAddresses(to string) []string {
	var out []string
	for _, a := range strings.Split(to, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func buildMail(from string, to []string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", msg.Account, msg.Title())
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Text(), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
