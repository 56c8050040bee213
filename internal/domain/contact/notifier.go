package contact

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*SMTPNotifier)(nil)
	_ Notifier = (*ThrottledNotifier)(nil)
)

// LogNotifier writes each message to the log. It is used when no mail
// transport is configured.
type LogNotifier struct {
	lg *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(lg *zap.Logger) *LogNotifier {
	return &LogNotifier{lg: lg}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, m *Message) error {
	n.lg.Info("Contact message received",
		zap.Stringer("id", m.ID),
		zap.String("name", m.Name),
		zap.String("email", m.Email),
		zap.String("phone", m.Phone),
		zap.String("subject", m.Subject),
		zap.Int("message_len", len(m.Message)),
	)
	return nil
}

// SMTPConfig configures SMTPNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
	Timeout  time.Duration
}

// SMTPNotifier sends each message as a plain text mail.
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier creates an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPNotifier{cfg: cfg}
}

// Notify implements Notifier.
func (n *SMTPNotifier) Notify(ctx context.Context, m *Message) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	dialer := &net.Dialer{Timeout: n.cfg.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(n.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		return errors.Wrap(err, "smtp client")
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return errors.Wrap(err, "starttls")
		}
	}
	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return errors.Wrap(err, "auth")
		}
	}

	if err := client.Mail(n.cfg.From); err != nil {
		return errors.Wrap(err, "mail from")
	}
	if err := client.Rcpt(n.cfg.To); err != nil {
		return errors.Wrap(err, "rcpt to")
	}

	w, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "data")
	}
	if _, err := w.Write(buildMail(n.cfg.From, n.cfg.To, m)); err != nil {
		return errors.Wrap(err, "write body")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "close body")
	}

	return client.Quit()
}

// buildMail renders m as an RFC 5322 message. Reply-To points at the
// customer so staff can answer directly.
func buildMail(from, to string, m *Message) []byte {
	var buf bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}

	header("From", from)
	header("To", to)
	header("Reply-To", sanitizeHeader(m.Email))
	header("Subject", mime.QEncoding.Encode("utf-8", "[Contatto] "+sanitizeHeader(m.Subject)))
	header("Date", m.CreatedAt.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@kart-catalog>", m.ID))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "Nome: %s\r\n", m.Name)
	fmt.Fprintf(&buf, "Email: %s\r\n", m.Email)
	if m.Phone != "" {
		fmt.Fprintf(&buf, "Telefono: %s\r\n", m.Phone)
	}
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(strings.ReplaceAll(m.Message, "\r\n", "\n"), "\n", "\r\n"))
	buf.WriteString("\r\n")

	return buf.Bytes()
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// ThrottledNotifier paces an underlying Notifier with a token bucket so a
// burst of submissions cannot flood the mail relay.
type ThrottledNotifier struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewThrottledNotifier allows perMinute deliveries per minute with a burst
// of the same size. A non-positive perMinute disables pacing.
func NewThrottledNotifier(next Notifier, perMinute int) *ThrottledNotifier {
	lim := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return &ThrottledNotifier{next: next, limiter: lim}
}

// Notify implements Notifier. It blocks until a token is available or ctx
// is done.
func (n *ThrottledNotifier) Notify(ctx context.Context, m *Message) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "wait for mail slot")
	}
	return n.next.Notify(ctx, m)
}
