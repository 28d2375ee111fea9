package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"rentmail/config"
	"rentmail/utils"
)

// OutgoingMail is one message handed to a Mailer
type OutgoingMail struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers outgoing mail. Ready reports up front whether Send can
// succeed at all, so callers can fail before validating a request.
type Mailer interface {
	Ready() error
	Send(ctx context.Context, m OutgoingMail) error
}

// SMTPClient handles email sending
type SMTPClient struct {
	cfg  config.SMTPConfig
	now  func() time.Time
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

var _ Mailer = &SMTPClient{}

// NewSMTPClient creates a new SMTP client
func NewSMTPClient(cfg config.SMTPConfig) *SMTPClient {
	var d net.Dialer
	return &SMTPClient{
		cfg:  cfg,
		now:  time.Now,
		dial: d.DialContext,
	}
}

// Ready fails when there are no credentials to authenticate with
func (c *SMTPClient) Ready() error {
	if !c.cfg.HasCredentials() {
		return utils.InternalServerError("SMTP credentials missing", nil)
	}
	return nil
}

// Send delivers m. Port 465 (or UseSTARTTLS off) uses implicit TLS, otherwise
// the session is upgraded with STARTTLS before authenticating.
func (c *SMTPClient) Send(ctx context.Context, m OutgoingMail) error {
	if err := c.Ready(); err != nil {
		return err
	}

	addr := net.JoinHostPort(c.cfg.Server, fmt.Sprint(c.cfg.GetPort()))
	utils.Log.Debug("Connecting to %s as %s", addr, c.cfg.Username)

	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	implicitTLS := !c.cfg.UseSTARTTLS || c.cfg.GetPort() == 465
	if implicitTLS {
		conn = tls.Client(conn, c.cfg.TLSConfig())
	}

	client, err := smtp.NewClient(conn, c.cfg.Server)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer client.Close()

	if err := client.Hello(domainOf(c.from())); err != nil {
		return fmt.Errorf("hello failed: %w", err)
	}

	if !implicitTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return fmt.Errorf("server %s does not support STARTTLS", c.cfg.Server)
		}
		if err := client.StartTLS(c.cfg.TLSConfig()); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}

	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Server)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("auth failed: %w", err)
	}

	if err := client.Mail(c.from()); err != nil {
		return fmt.Errorf("mail from failed: %w", err)
	}
	if err := client.Rcpt(m.To); err != nil {
		return fmt.Errorf("rcpt to failed: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("data failed: %w", err)
	}
	if _, err := writer.Write(c.buildMessage(m)); err != nil {
		writer.Close()
		return fmt.Errorf("write failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("data close failed: %w", err)
	}

	utils.Log.Info("Email sent: to=%s subject=%s", m.To, m.Subject)
	return client.Quit()
}

func (c *SMTPClient) from() string {
	if c.cfg.FromAddress != "" {
		return c.cfg.FromAddress
	}
	return c.cfg.Username
}

// buildMessage renders the RFC 5322 message. Text and html together become
// multipart/alternative; auto-reply suppression headers are always set.
func (c *SMTPClient) buildMessage(m OutgoingMail) []byte {
	from := c.from()
	sender := (&mail.Address{Name: c.cfg.FromName, Address: from}).String()

	var buf bytes.Buffer
	writeHeader := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}

	writeHeader("Date", c.now().Format(time.RFC1123Z))
	writeHeader("From", sender)
	writeHeader("To", m.To)
	writeHeader("Reply-To", from)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	writeHeader("Message-ID", fmt.Sprintf("<%s@%s>", randomToken(), domainOf(from)))
	writeHeader("MIME-Version", "1.0")
	writeHeader("X-Auto-Response-Suppress", "All")
	writeHeader("Auto-Submitted", "auto-generated")

	switch {
	case m.Text != "" && m.HTML != "":
		boundary := "alt-" + randomToken()
		writeHeader("Content-Type", fmt.Sprintf("multipart/alternative; boundary=\"%s\"", boundary))
		buf.WriteString("\r\n")
		writePart(&buf, boundary, "text/plain", m.Text)
		writePart(&buf, boundary, "text/html", m.HTML)
		fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	case m.HTML != "":
		writeHeader("Content-Type", "text/html; charset=\"utf-8\"")
		writeHeader("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		writeQuoted(&buf, m.HTML)
	default:
		writeHeader("Content-Type", "text/plain; charset=\"utf-8\"")
		writeHeader("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		writeQuoted(&buf, m.Text)
	}

	return buf.Bytes()
}

func writePart(w io.Writer, boundary, contentType, body string) {
	fmt.Fprintf(w, "--%s\r\n", boundary)
	fmt.Fprintf(w, "Content-Type: %s; charset=\"utf-8\"\r\n", contentType)
	fmt.Fprintf(w, "Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	writeQuoted(w, body)
}

func writeQuoted(w io.Writer, body string) {
	qp := quotedprintable.NewWriter(w)
	_, _ = qp.Write([]byte(body))
	_ = qp.Close()
	_, _ = io.WriteString(w, "\r\n")
}

func randomToken() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "localhost"
}
