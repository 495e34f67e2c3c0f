package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"
)

// SMTPConfig addresses the mail relay and the sender.
type SMTPConfig struct {
	Host      string   `koanf:"host"`
	Port      int      `koanf:"port"`
	Username  string   `koanf:"username"`
	Password  string   `koanf:"password"`
	FromName  string   `koanf:"from_name"`
	FromEmail string   `koanf:"from_email"`
	Branding  Branding `koanf:"branding"`
	Expiries  Expiries `koanf:"-"`
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails rendered templates through an SMTP relay.
type SMTPNotifier struct {
	addr    string
	auth    smtp.Auth
	from    mail.Address
	compose composer
	logger  *slog.Logger
	send    sendFunc
}

// NewSMTPNotifier returns a notifier for cfg. Authentication is PLAIN and
// only used when a username is set.
func NewSMTPNotifier(cfg SMTPConfig, templates *TemplateCache, logger *slog.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("notify: smtp host required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.FromEmail == "" {
		return nil, errors.New("notify: from address required")
	}
	if _, err := mail.ParseAddress(cfg.FromEmail); err != nil {
		return nil, fmt.Errorf("notify: from address: %w", err)
	}
	if templates == nil {
		return nil, errors.New("notify: template cache required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPNotifier{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth: auth,
		from: mail.Address{Name: cfg.FromName, Address: cfg.FromEmail},
		compose: composer{
			templates: templates,
			branding:  cfg.Branding,
			expiries:  defaultExpiries(cfg.Expiries),
			now:       time.Now,
		},
		logger: logger,
		send:   smtp.SendMail,
	}, nil
}

func (n *SMTPNotifier) SendVerificationEmail(ctx context.Context, to, link, name string) error {
	msg, err := n.compose.verification(to, link, name)
	if err != nil {
		return err
	}
	return n.deliver(ctx, msg)
}

func (n *SMTPNotifier) SendResetPasswordEmail(ctx context.Context, to, link string) error {
	msg, err := n.compose.reset(to, link)
	if err != nil {
		return err
	}
	return n.deliver(ctx, msg)
}

func (n *SMTPNotifier) SendSecondFactorCode(ctx context.Context, to, code string) error {
	msg, err := n.compose.code(to, code)
	if err != nil {
		return err
	}
	return n.deliver(ctx, msg)
}

func (n *SMTPNotifier) deliver(ctx context.Context, msg Message) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("notify: recipient: %w", err)
	}

	raw := n.encode(to, msg)
	if err := n.send(n.addr, n.auth, n.from.Address, []string{to.Address}, raw); err != nil {
		n.logger.ErrorContext(ctx, "mail not sent", "subject", msg.Subject, "relay", n.addr, "error", err)
		return fmt.Errorf("notify: send via %s: %w", n.addr, err)
	}
	n.logger.InfoContext(ctx, "mail sent", "subject", msg.Subject)
	return nil
}

func (n *SMTPNotifier) encode(to *mail.Address, msg Message) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", n.from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", time.Now().UTC().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	b.WriteString("\r\n")
	return b.Bytes()
}
