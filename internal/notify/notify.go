// Package notify delivers alert messages through the configured channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

// Decrypter turns stored credential tokens back into plaintext.
type Decrypter interface {
	Decrypt(token string) (string, error)
}

// Dispatcher sends one message through one kind of channel.
type Dispatcher interface {
	Type() string
	Send(ctx context.Context, n *storage.Notification, subject, message string) error
}

// DispatchError is returned by Router.Send when a channel rejects or cannot
// receive a message.
type DispatchError struct {
	NotificationID int64
	Type           string
	Err            error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s notification %d: %v", e.Type, e.NotificationID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// errSecret replaces decryption errors so tokens never reach logs.
var errSecret = errors.New("credential could not be decrypted")

// Router routes messages to the dispatcher of the notification's type.
type Router struct {
	dispatchers map[string]Dispatcher
}

// NewRouter creates a router with the smtp and telegram dispatchers.
func NewRouter(cfg config.NotifyConfig, secrets Decrypter) *Router {
	r := &Router{dispatchers: make(map[string]Dispatcher)}
	r.register(NewSMTP(cfg.SMTP, secrets))
	r.register(NewTelegram(cfg.Telegram, secrets))
	return r
}

func (r *Router) register(d Dispatcher) {
	r.dispatchers[d.Type()] = d
}

// Send delivers subject and message through n. Every failure is a
// *DispatchError.
func (r *Router) Send(ctx context.Context, n *storage.Notification, subject, message string) error {
	d, ok := r.dispatchers[n.Type]
	if !ok {
		return &DispatchError{NotificationID: n.ID, Type: n.Type, Err: fmt.Errorf("unsupported notification type")}
	}

	if err := d.Send(ctx, n, subject, message); err != nil {
		return &DispatchError{NotificationID: n.ID, Type: n.Type, Err: err}
	}

	log.Debug().
		Int64("notification_id", n.ID).
		Str("type", n.Type).
		Str("subject", subject).
		Msg("Notification sent")
	return nil
}
