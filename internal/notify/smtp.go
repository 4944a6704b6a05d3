package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTP mails notifications to the admin address.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
	// ImplicitTLS dials TLS directly (port 465) instead of upgrading with STARTTLS.
	ImplicitTLS bool

	dial func(ctx context.Context, addr string) (net.Conn, error)
}

func (s *SMTP) Notify(ctx context.Context, n Notification) error {
	if s.Host == "" || s.To == "" {
		return errors.New("smtp host and recipient are required")
	}
	from := s.From
	if from == "" {
		from = s.Username
	}
	port := s.Port
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(port))

	conn, err := s.connect(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if !s.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.Host}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if s.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(s.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(message(from, s.To, n))); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return client.Quit()
}

func (s *SMTP) connect(ctx context.Context, addr string) (net.Conn, error) {
	if s.dial != nil {
		return s.dial(ctx, addr)
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if s.ImplicitTLS {
		return (&tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.Host}}).DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

func message(from, to string, n Notification) string {
	headers := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + n.Subject(),
		"Date: " + time.Now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	body := strings.ReplaceAll(n.Body(), "\n", "\r\n")
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + body
}
