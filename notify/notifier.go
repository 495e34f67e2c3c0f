package notify

import (
	"context"
	"time"
)

// Subjects of the default messages.
const (
	SubjectVerifyEmail   = "Verify your email address"
	SubjectResetPassword = "Reset your password"
	SubjectCode          = "Your verification code"
)

// Branding fills the footer of every message.
type Branding struct {
	CompanyName      string `koanf:"company_name"`
	CompanyAddress   string `koanf:"company_address"`
	SupportEmail     string `koanf:"support_email"`
	PrivacyPolicyURL string `koanf:"privacy_policy_url"`
	TermsURL         string `koanf:"terms_url"`
}

// Expiries are shown to the recipient. They should match the engine's token
// and code lifetimes.
type Expiries struct {
	Verification time.Duration
	Reset        time.Duration
	Code         time.Duration
}

// mailData is the value every template is executed with.
type mailData struct {
	Branding
	Email         string
	FirstName     string
	Link          string
	Code          string
	ExpiryMinutes int
	Year          int
}

// Message is a rendered mail.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// composer renders the three engine messages from a TemplateCache.
type composer struct {
	templates *TemplateCache
	branding  Branding
	expiries  Expiries
	now       func() time.Time
}

func (c composer) data(to string) mailData {
	return mailData{Branding: c.branding, Email: to, Year: c.now().Year()}
}

func (c composer) verification(to, link, name string) (Message, error) {
	d := c.data(to)
	d.Link = link
	d.FirstName = name
	if d.FirstName == "" {
		d.FirstName = "there"
	}
	d.ExpiryMinutes = minutes(c.expiries.Verification)
	html, err := c.templates.Render(TemplateConfirmEmail, d)
	return Message{To: to, Subject: SubjectVerifyEmail, HTML: html}, err
}

func (c composer) reset(to, link string) (Message, error) {
	d := c.data(to)
	d.Link = link
	d.ExpiryMinutes = minutes(c.expiries.Reset)
	html, err := c.templates.Render(TemplateResetPassword, d)
	return Message{To: to, Subject: SubjectResetPassword, HTML: html}, err
}

func (c composer) code(to, code string) (Message, error) {
	d := c.data(to)
	d.Code = code
	d.ExpiryMinutes = minutes(c.expiries.Code)
	html, err := c.templates.Render(TemplateSecondFactorCode, d)
	return Message{To: to, Subject: SubjectCode, HTML: html}, err
}

func minutes(d time.Duration) int {
	return int((d + time.Minute - 1) / time.Minute)
}

func defaultExpiries(e Expiries) Expiries {
	if e.Verification <= 0 {
		e.Verification = time.Hour
	}
	if e.Reset <= 0 {
		e.Reset = time.Hour
	}
	if e.Code <= 0 {
		e.Code = 5 * time.Minute
	}
	return e
}

// ctxErr reports a cancelled or expired ctx before any I/O is attempted.
func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
