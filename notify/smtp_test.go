package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credcore/credcore"
)

var (
	_ credcore.Notifier = (*SMTPNotifier)(nil)
	_ credcore.Notifier = (*LogNotifier)(nil)
)

func fixedNow() time.Time {
	return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
}

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestSMTP(t *testing.T, fail error) (*SMTPNotifier, *[]sentMail) {
	t.Helper()
	cache, err := NewTemplateCache(nil, 0)
	require.NoError(t, err)
	n, err := NewSMTPNotifier(SMTPConfig{
		Host:      "mail.example.test",
		Port:      2525,
		Username:  "mailer",
		Password:  "secret",
		FromName:  "Acme Accounts",
		FromEmail: "noreply@example.test",
		Branding:  Branding{CompanyName: "Acme"},
	}, cache, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)

	var sent []sentMail
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if fail != nil {
			return fail
		}
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	n.compose.now = fixedNow
	return n, &sent
}

func TestSMTPNotifierSendsVerification(t *testing.T) {
	n, sent := newTestSMTP(t, nil)

	err := n.SendVerificationEmail(context.Background(), "bob@example.test", "https://app.example.test/verify-email?token=t1", "Bob")
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	m := (*sent)[0]
	assert.Equal(t, "mail.example.test:2525", m.addr)
	assert.Equal(t, "noreply@example.test", m.from)
	assert.Equal(t, []string{"bob@example.test"}, m.to)
	assert.Contains(t, m.msg, "Subject: Verify your email address\r\n")
	assert.Contains(t, m.msg, `From: "Acme Accounts" <noreply@example.test>`)
	assert.Contains(t, m.msg, "Content-Type: text/html")
	assert.Contains(t, m.msg, "Hi Bob,")
	assert.Contains(t, m.msg, "token=t1")
}

func TestSMTPNotifierSendsCode(t *testing.T) {
	n, sent := newTestSMTP(t, nil)

	require.NoError(t, n.SendSecondFactorCode(context.Background(), "bob@example.test", "120934"))
	require.NoError(t, n.SendResetPasswordEmail(context.Background(), "bob@example.test", "https://app.example.test/reset-password?token=r1"))
	require.Len(t, *sent, 2)
	assert.Contains(t, (*sent)[0].msg, "120934")
	assert.Contains(t, (*sent)[1].msg, "Subject: Reset your password")
}

func TestSMTPNotifierPropagatesFailure(t *testing.T) {
	relayDown := errors.New("dial tcp: connection refused")
	n, _ := newTestSMTP(t, relayDown)

	err := n.SendSecondFactorCode(context.Background(), "bob@example.test", "120934")
	require.ErrorIs(t, err, relayDown)
}

func TestSMTPNotifierHonoursCancellation(t *testing.T) {
	n, sent := newTestSMTP(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.SendSecondFactorCode(ctx, "bob@example.test", "120934")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *sent)
}

func TestSMTPNotifierRejectsHeaderInjection(t *testing.T) {
	n, sent := newTestSMTP(t, nil)

	err := n.SendSecondFactorCode(context.Background(), "bob@example.test\r\nBcc: eve@example.test", "120934")
	require.Error(t, err)
	assert.Empty(t, *sent)
}

func TestNewSMTPNotifierValidates(t *testing.T) {
	cache, err := NewTemplateCache(nil, 0)
	require.NoError(t, err)

	_, err = NewSMTPNotifier(SMTPConfig{FromEmail: "noreply@example.test"}, cache, nil)
	assert.Error(t, err)
	_, err = NewSMTPNotifier(SMTPConfig{Host: "mail.example.test"}, cache, nil)
	assert.Error(t, err)
	_, err = NewSMTPNotifier(SMTPConfig{Host: "mail.example.test", FromEmail: "noreply@example.test"}, nil, nil)
	assert.Error(t, err)

	n, err := NewSMTPNotifier(SMTPConfig{Host: "mail.example.test", FromEmail: "noreply@example.test"}, cache, nil)
	require.NoError(t, err)
	assert.Equal(t, "mail.example.test:587", n.addr)
	assert.Nil(t, n.auth)
}

func TestLogNotifierLogsCode(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)), nil)

	require.NoError(t, n.SendSecondFactorCode(context.Background(), "bob@example.test", "120934"))
	require.NoError(t, n.SendResetPasswordEmail(context.Background(), "bob@example.test", "https://x.test/r?token=1"))
	out := buf.String()
	assert.True(t, strings.Contains(out, "code=120934"), out)
	assert.Contains(t, out, "token=1")
}

func TestLogNotifierRendersWhenGivenTemplates(t *testing.T) {
	cache, err := NewTemplateCache(nil, 0)
	require.NoError(t, err)
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), cache)

	require.NoError(t, n.SendVerificationEmail(context.Background(), "bob@example.test", "https://x.test/v?token=1", "Bob"))
	assert.Equal(t, 1, cache.Len())
}
