package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

// SMTP sends plain text mail.
type SMTP struct {
	timeout time.Duration
	secrets Decrypter
}

// NewSMTP creates an SMTP dispatcher.
func NewSMTP(cfg config.SMTPConfig, secrets Decrypter) *SMTP {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTP{timeout: timeout, secrets: secrets}
}

// Type returns "smtp".
func (s *SMTP) Type() string {
	return storage.NotificationTypeSMTP
}

// Send opens one connection with the notification's security mode and
// delivers a single message to every recipient.
func (s *SMTP) Send(ctx context.Context, n *storage.Notification, subject, message string) error {
	password, err := s.secrets.Decrypt(n.SMTPPassword)
	if err != nil {
		return errSecret
	}

	client, err := mail.NewClient(n.SMTPHost, s.clientOptions(n, password)...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(n.SMTPFrom); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(storage.SplitRecipients(n.SMTPTo)...); err != nil {
		return fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, message)

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp delivery failed: %w", err)
	}
	return nil
}

func (s *SMTP) clientOptions(n *storage.Notification, password string) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(n.SMTPPort),
		mail.WithTimeout(s.timeout),
		mail.WithTLSConfig(&tls.Config{
			ServerName:         n.SMTPHost,
			InsecureSkipVerify: n.SMTPIgnoreSSLErrors,
		}),
	}

	switch n.SMTPSecurity {
	case storage.SMTPSecurityTLS:
		opts = append(opts, mail.WithSSL())
	case storage.SMTPSecurityStartTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if n.SMTPUsername != "" {
		auth := mail.SMTPAuthPlain
		if n.SMTPSecurity == storage.SMTPSecurityNone || n.SMTPSecurity == "" {
			auth = mail.SMTPAuthPlainNoEnc
		}
		opts = append(opts,
			mail.WithSMTPAuth(auth),
			mail.WithUsername(n.SMTPUsername),
			mail.WithPassword(password),
		)
	}
	return opts
}
