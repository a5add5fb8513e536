// Package notifications defines the notification channel endpoints.
package notifications

import "atlas-system/internal/storage"

// NotificationRequest is the payload of create and update requests. Nil
// fields are left unchanged on update.
type NotificationRequest struct {
	Title *string `json:"title,omitempty" binding:"omitempty,min=1,max=100"`
	Type  *string `json:"type,omitempty" binding:"omitempty,oneof=smtp telegram"`

	SMTPHost            *string `json:"smtp_host,omitempty"`
	SMTPPort            *int    `json:"smtp_port,omitempty" binding:"omitempty,min=1,max=65535"`
	SMTPSecurity        *string `json:"smtp_security,omitempty" binding:"omitempty,oneof=none starttls tls"`
	SMTPUsername        *string `json:"smtp_username,omitempty"`
	SMTPPassword        *string `json:"smtp_password,omitempty"`
	SMTPFrom            *string `json:"smtp_from,omitempty"`
	SMTPTo              *string `json:"smtp_to,omitempty"`
	SMTPIgnoreSSLErrors *bool   `json:"smtp_ignore_ssl_errors,omitempty"`

	TelegramBotToken       *string `json:"telegram_bot_token,omitempty"`
	TelegramChatID         *string `json:"telegram_chat_id,omitempty"`
	TelegramThreadID       *int64  `json:"telegram_thread_id,omitempty"`
	TelegramSilent         *bool   `json:"telegram_silent,omitempty"`
	TelegramProtectContent *bool   `json:"telegram_protect_content,omitempty"`
}

type encrypter interface {
	Encrypt(plaintext string) (string, error)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (r *NotificationRequest) apply(n *storage.Notification, secrets encrypter) error {
	set(&n.Title, r.Title)
	set(&n.Type, r.Type)

	set(&n.SMTPHost, r.SMTPHost)
	set(&n.SMTPPort, r.SMTPPort)
	set(&n.SMTPSecurity, r.SMTPSecurity)
	set(&n.SMTPUsername, r.SMTPUsername)
	set(&n.SMTPFrom, r.SMTPFrom)
	set(&n.SMTPTo, r.SMTPTo)
	set(&n.SMTPIgnoreSSLErrors, r.SMTPIgnoreSSLErrors)

	set(&n.TelegramChatID, r.TelegramChatID)
	if r.TelegramThreadID != nil {
		n.TelegramThreadID = r.TelegramThreadID
	}
	set(&n.TelegramSilent, r.TelegramSilent)
	set(&n.TelegramProtectContent, r.TelegramProtectContent)

	if r.SMTPPassword != nil {
		token, err := secrets.Encrypt(*r.SMTPPassword)
		if err != nil {
			return err
		}
		n.SMTPPassword = token
	}
	if r.TelegramBotToken != nil {
		token, err := secrets.Encrypt(*r.TelegramBotToken)
		if err != nil {
			return err
		}
		n.TelegramBotToken = token
	}
	return nil
}

// NotificationResponse is a channel without its secrets.
type NotificationResponse struct {
	*storage.Notification
	HasSMTPPassword bool `json:"has_smtp_password"`
	HasBotToken     bool `json:"has_bot_token"`
}

func newNotificationResponse(n *storage.Notification) NotificationResponse {
	return NotificationResponse{
		Notification:    n,
		HasSMTPPassword: n.SMTPPassword != "",
		HasBotToken:     n.TelegramBotToken != "",
	}
}

// TestRequest overrides the default test message.
type TestRequest struct {
	Subject string `json:"subject,omitempty" binding:"max=200"`
	Message string `json:"message,omitempty" binding:"max=4000"`
}

// TestResponse is the outcome of a test send.
type TestResponse struct {
	Delivered  bool   `json:"delivered"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}
