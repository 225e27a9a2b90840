package notifiers

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	netmail "net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kova98/changealert.api/models"
)

const (
	TLSNone     = "none"
	TLSImplicit = "tls"
	TLSStart    = "starttls"
)

type MailerConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	TLS      string
}

// Mailer sends messages over SMTP, one connection per message, so it is safe
// for concurrent use.
type Mailer struct {
	cfg MailerConfig
	now func() time.Time
}

func NewMailer(cfg MailerConfig) *Mailer {
	if cfg.Username == "" && cfg.Password != "" {
		cfg.Username = cfg.From
	}
	return &Mailer{cfg: cfg, now: time.Now}
}

// Send delivers mail and returns the generated Message-ID.
func (m *Mailer) Send(ctx context.Context, mail models.Email) (string, error) {
	if mail.From == "" {
		mail.From = m.cfg.From
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(mail.From))
	msg, err := m.buildMessage(mail, messageID)
	if err != nil {
		return "", fmt.Errorf("build message: %w", err)
	}

	rcpts := make([]string, 0, 1+len(mail.Cc)+len(mail.Bcc))
	rcpts = append(rcpts, mail.To)
	rcpts = append(rcpts, mail.Cc...)
	rcpts = append(rcpts, mail.Bcc...)

	if err := m.deliver(ctx, mail.From, rcpts, msg); err != nil {
		return "", err
	}

	slog.Info("email sent", "recipient", mail.To, "subject", mail.Subject, "message_id", messageID)
	return messageID, nil
}

func (m *Mailer) buildMessage(mail models.Email, messageID string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if mail.Text != "" {
		if err := writePart(mw, "text/plain; charset=UTF-8", mail.Text); err != nil {
			return nil, err
		}
	}
	if mail.HTML != "" {
		if err := writePart(mw, "text/html; charset=UTF-8", mail.HTML); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	from := mail.From
	if m.cfg.FromName != "" && mail.From == m.cfg.From {
		from = (&netmail.Address{Name: m.cfg.FromName, Address: mail.From}).String()
	}

	var msg bytes.Buffer
	writeHeader(&msg, "From", from)
	writeHeader(&msg, "To", mail.To)
	if len(mail.Cc) > 0 {
		writeHeader(&msg, "Cc", strings.Join(mail.Cc, ", "))
	}
	if mail.ReplyTo != "" {
		writeHeader(&msg, "Reply-To", mail.ReplyTo)
	}
	writeHeader(&msg, "Subject", mime.QEncoding.Encode("UTF-8", mail.Subject))
	writeHeader(&msg, "Date", m.now().Format(time.RFC1123Z))
	writeHeader(&msg, "Message-ID", messageID)
	switch mail.Priority {
	case models.PriorityHigh:
		writeHeader(&msg, "X-Priority", "1 (Highest)")
		writeHeader(&msg, "Importance", "High")
	case models.PriorityLow:
		writeHeader(&msg, "X-Priority", "5 (Lowest)")
		writeHeader(&msg, "Importance", "Low")
	}
	writeHeader(&msg, "MIME-Version", "1.0")
	writeHeader(&msg, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}

func (m *Mailer) deliver(ctx context.Context, from string, rcpts []string, msg []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	tlsConfig := &tls.Config{
		ServerName: m.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	var conn net.Conn
	var err error
	if m.cfg.TLS == TLSImplicit {
		conn, err = (&tls.Dialer{Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("SMTP dial failed: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("SMTP client failed: %w", err)
	}
	defer client.Close()

	if m.cfg.TLS == TLSStart {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL failed: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT %s failed: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("SMTP write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("SMTP close failed: %w", err)
	}

	return client.Quit()
}

func writePart(mw *multipart.Writer, contentType, content string) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "quoted-printable")

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}

	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return strings.Trim(address[i+1:], "> ")
	}
	return "localhost"
}
