package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	APIURL  string
	HTTP    *http.Client
	secrets Decrypter
}

// NewTelegram creates a Telegram dispatcher.
func NewTelegram(cfg config.TelegramConfig, secrets Decrypter) *Telegram {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Telegram{
		APIURL:  strings.TrimRight(cfg.APIURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		secrets: secrets,
	}
}

// Type returns "telegram".
func (t *Telegram) Type() string {
	return storage.NotificationTypeTelegram
}

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	MessageThreadID     *int64 `json:"message_thread_id,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
	ProtectContent      bool   `json:"protect_content,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts one message. An API error carries the provider's description
// when the response has one.
func (t *Telegram) Send(ctx context.Context, n *storage.Notification, subject, message string) error {
	token, err := t.secrets.Decrypt(n.TelegramBotToken)
	if err != nil {
		return errSecret
	}
	if token == "" || n.TelegramChatID == "" {
		return fmt.Errorf("telegram not configured")
	}

	text := message
	if subject != "" {
		text = subject + "\n\n" + message
	}
	b, err := json.Marshal(telegramMessage{
		ChatID:              n.TelegramChatID,
		Text:                text,
		MessageThreadID:     n.TelegramThreadID,
		DisableNotification: n.TelegramSilent,
		ProtectContent:      n.TelegramProtectContent,
	})
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/bot%s/sendMessage", t.APIURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("invalid telegram api url")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.HTTP.Do(req)
	if err != nil {
		// The request URL embeds the token; drop it from the error.
		return fmt.Errorf("telegram request failed: %s", redact(err.Error(), token))
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var resp telegramResponse
	_ = json.Unmarshal(body, &resp)

	if res.StatusCode >= 300 || !resp.OK {
		if resp.Description != "" {
			return fmt.Errorf("telegram: %s", resp.Description)
		}
		return fmt.Errorf("telegram status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}
