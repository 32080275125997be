// smtp.go
//
// Mailer interface and SMTPMailer implementation.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"regexp"
	"strings"
)

// Mailer sends merchant notifications.
type Mailer interface {
	// SendStoreConnected tells the installing staff member their store is linked.
	// vars is a map of %%key%% placeholder names to replacement values
	// (storeName, shop). Unresolved placeholders are stripped.
	// Reserved keys (toEmail, dashboardURL) are owned by the mailer and cannot be overridden.
	SendStoreConnected(ctx context.Context, toEmail string, vars map[string]string) error
}

// SMTPConfig holds all configuration for SMTPMailer.
type SMTPConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	FromAddress  string
	DashboardURL string
}

// SMTPMailer sends email via SMTP.
// Compatible with any SMTP provider: SES, Mailgun, Mailpit (local dev), etc.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer with the given config.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// NopMailer discards all outbound email. Used when SMTP is not configured.
type NopMailer struct{}

func (NopMailer) SendStoreConnected(context.Context, string, map[string]string) error { return nil }

// reservedVars holds placeholder keys owned by the mailer.
// Caller-supplied vars with these keys are dropped.
var reservedVars = map[string]bool{
	"toEmail":      true,
	"dashboardURL": true,
}

// unresolvedPlaceholder matches any %%word%% placeholder left after substitution.
var unresolvedPlaceholder = regexp.MustCompile(`%%\w+%%`)

// applyVars substitutes %%key%% placeholders in tmpl using vars, then strips any
// that remain unresolved rather than leaving them in the output.
func applyVars(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "%%"+key+"%%", value)
	}
	substituted := strings.NewReplacer(pairs...).Replace(tmpl)
	return unresolvedPlaceholder.ReplaceAllString(substituted, "")
}

// mergeVars copies caller vars minus reserved keys, then sets the mailer-owned ones.
func (m *SMTPMailer) mergeVars(toEmail string, vars map[string]string) map[string]string {
	merged := make(map[string]string, len(vars)+len(reservedVars))
	for k, v := range vars {
		if !reservedVars[k] {
			merged[k] = v
		}
	}
	merged["toEmail"] = toEmail
	merged["dashboardURL"] = m.cfg.DashboardURL
	return merged
}

// storeConnectedMessage renders the full RFC 5322 message for SendStoreConnected.
func (m *SMTPMailer) storeConnectedMessage(toEmail string, vars map[string]string) string {
	body := "Your Shopify store %%storeName%% (%%shop%%) is now connected.\n\n" +
		"Open your dashboard to get started:\n\n" +
		"%%dashboardURL%%\n\n" +
		"If you did not install this app, remove it from your Shopify admin."

	msg := "From: " + m.cfg.FromAddress + "\r\n" +
		"To: " + toEmail + "\r\n" +
		"Subject: Your store is connected\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body

	return applyVars(msg, m.mergeVars(toEmail, vars))
}

// sendMail dials the SMTP server, enforces STARTTLS (rejects plaintext sessions),
// authenticates, and delivers msg. The connection respects ctx cancellation.
func (m *SMTPMailer) sendMail(ctx context.Context, toEmail, msg string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", net.JoinHostPort(m.cfg.Host, m.cfg.Port))
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	// Enforce STARTTLS -- reject the session if server does not advertise it.
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not advertise STARTTLS: refusing plaintext session")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}

	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	return c.Quit()
}

// SendStoreConnected emails the "store connected" notice to toEmail.
func (m *SMTPMailer) SendStoreConnected(ctx context.Context, toEmail string, vars map[string]string) error {
	if err := m.sendMail(ctx, toEmail, m.storeConnectedMessage(toEmail, vars)); err != nil {
		return fmt.Errorf("sending store connected email: %w", err)
	}
	return nil
}
