// Package mailer is the outbound SMTP transport and its HTML templates.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// Config is the SMTP transport configuration, loaded once from environment.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	Secure    bool // true = direct TLS (465), false = STARTTLS (587)
}

// Mailer delivers a rendered message. Implementations must be safe for
// concurrent use.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPMailer implements Mailer over plain net/smtp with STARTTLS or direct
// TLS, mirroring how the transport is usually deployed (587 vs 465).
type SMTPMailer struct {
	config Config
	logger *slog.Logger
}

func NewSMTPMailer(config Config, logger *slog.Logger) (*SMTPMailer, error) {
	if _, err := sanitizeEmailAddress(config.FromEmail); err != nil {
		return nil, fmt.Errorf("invalid From address: %w", err)
	}
	return &SMTPMailer{config: config, logger: logger}, nil
}

// VerifyConnection dials the configured host and exchanges a greeting. Called
// once at startup; a failure is logged by the caller, never fatal.
func (m *SMTPMailer) VerifyConnection(ctx context.Context) error {
	client, conn, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return client.Quit()
}

// Send delivers one message. The context deadline bounds the whole exchange.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	toAddr, err := sanitizeEmailAddress(to)
	if err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}

	client, conn, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer client.Quit()

	if m.config.Username != "" {
		auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(m.config.FromEmail); err != nil {
		return fmt.Errorf("SMTP MAIL command failed: %w", err)
	}
	if err := client.Rcpt(toAddr); err != nil {
		return fmt.Errorf("SMTP RCPT command failed: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command failed: %w", err)
	}
	if _, err := writer.Write(m.buildMessage(toAddr, subject, htmlBody)); err != nil {
		return fmt.Errorf("failed to write email data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize email: %w", err)
	}

	m.logger.Info("email_sent", "host", m.config.Host, "subject", subject)
	return nil
}

func (m *SMTPMailer) connect(ctx context.Context) (*smtp.Client, net.Conn, error) {
	serverAddr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	var (
		conn net.Conn
		err  error
	)
	if m.config.Secure {
		tlsConfig := &tls.Config{ServerName: m.config.Host, MinVersion: tls.VersionTLS12}
		conn, err = tls.DialWithDialer(dialer, "tcp", serverAddr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", serverAddr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("SMTP connection failed: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("SMTP protocol error: %w", err)
	}

	if !m.config.Secure {
		tlsConfig := &tls.Config{ServerName: m.config.Host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("SMTP TLS upgrade failed: %w", err)
		}
	}

	return client, conn, nil
}

// buildMessage constructs an RFC 5322 message with an HTML body.
func (m *SMTPMailer) buildMessage(to, subject, htmlBody string) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", m.config.FromName, m.config.FromEmail))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)
	return []byte(msg.String())
}

// sanitizeEmailAddress validates an address and rejects CRLF header injection.
func sanitizeEmailAddress(addr string) (string, error) {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(parsed.Address, "\r\n") || strings.ContainsAny(parsed.Name, "\r\n") {
		return "", fmt.Errorf("CRLF injection detected in email address")
	}
	return parsed.Address, nil
}

// LogMailer logs instead of sending. Used in development and tests.
type LogMailer struct {
	Logger *slog.Logger

	// Captured sends, for tests.
	Sent []string
}

func (m *LogMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	m.Sent = append(m.Sent, subject)
	if m.Logger != nil {
		m.Logger.Info("email_skipped", "subject", subject)
	}
	return nil
}
