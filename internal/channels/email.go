package channels

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
)

// SMTPConfig configures the email adapter.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// sendMailFunc matches smtp.SendMail and is swapped in tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email delivers rendered messages over SMTP.
type Email struct {
	cfg  SMTPConfig
	send sendMailFunc
	log  zerolog.Logger
}

func NewEmail(cfg SMTPConfig, log zerolog.Logger) *Email {
	return &Email{
		cfg:  cfg,
		send: smtp.SendMail,
		log:  log.With().Str("adapter", "email").Logger(),
	}
}

func (e *Email) Channel() domain.Channel { return domain.ChannelEmail }

func (e *Email) Send(ctx context.Context, msg Message) error {
	if msg.Recipients.Email == nil || len(msg.Recipients.Email.To) == 0 {
		return permanentErr(domain.ChannelEmail, "no recipients")
	}
	if err := ctx.Err(); err != nil {
		return transientErr(domain.ChannelEmail, "context cancelled: %v", err)
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	to := msg.Recipients.Email.To
	body := buildMIME(e.cfg.From, to, msg.Rendered.Subject, msg.Rendered.Text, msg.Rendered.HTML)

	if err := e.send(e.cfg.addr(), auth, e.cfg.From, to, body); err != nil {
		return classifySMTP(err)
	}

	e.log.Debug().Str("correlation_id", msg.CorrelationID).Int("recipients", len(to)).Msg("email sent")
	return nil
}

// classifySMTP splits SMTP failures: 4xx reply codes signal a busy or
// throttling server and are retried, 5xx reply codes are rejections
// that retrying cannot fix. Anything without a reply code is a
// connection-level fault, also retried.
func classifySMTP(err error) *Error {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		if proto.Code >= 400 && proto.Code < 500 {
			return transientErr(domain.ChannelEmail, "smtp %d: %s", proto.Code, proto.Msg)
		}
		return permanentErr(domain.ChannelEmail, "smtp %d: %s", proto.Code, proto.Msg)
	}
	return transientErr(domain.ChannelEmail, "smtp send: %v", err)
}

const mimeBoundary = "np-alt-9f2c1e"

// buildMIME assembles a multipart/alternative message with text and
// HTML parts so clients pick whichever they render best.
func buildMIME(from string, to []string, subject, text, html string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mimeBoundary)

	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(text)
	b.WriteString("\r\n")

	if html != "" {
		fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(html)
		b.WriteString("\r\n")
	}

	fmt.Fprintf(&b, "--%s--\r\n", mimeBoundary)
	return []byte(b.String())
}

var _ Adapter = (*Email)(nil)
