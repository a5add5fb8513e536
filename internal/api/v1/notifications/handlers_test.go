package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"atlas-system/internal/api/types"
	"atlas-system/internal/config"
	"atlas-system/internal/secret"
	"atlas-system/internal/storage"
)

type fakeSender struct {
	err      error
	subjects []string
	messages []string
}

func (f *fakeSender) Send(_ context.Context, _ *storage.Notification, subject, message string) error {
	f.subjects = append(f.subjects, subject)
	f.messages = append(f.messages, message)
	return f.err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *types.Error    `json:"error"`
}

func setup(t *testing.T) (*gin.Engine, *storage.Storage, *fakeSender, *secret.Codec) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.New(config.StorageConfig{
		Path:         filepath.Join(t.TempDir(), "atlas.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	codec, err := secret.New("test-secret-key")
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}

	sender := &fakeSender{}
	h := NewHandler(store, sender, codec)

	router := gin.New()
	g := router.Group("/notifications")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/test", h.Test)

	return router, store, sender, codec
}

func call(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, env
}

var telegramChannel = map[string]any{
	"title":              "Ops chat",
	"type":               "telegram",
	"telegram_bot_token": "123:abc",
	"telegram_chat_id":   "-100200",
}

func TestNotificationCRUD(t *testing.T) {
	router, store, _, codec := setup(t)

	w, resp := call(t, router, http.MethodPost, "/notifications", telegramChannel)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "123:abc") {
		t.Errorf("Expected the bot token to stay out of the response")
	}
	var created NotificationResponse
	_ = json.Unmarshal(resp.Data, &created)
	if !created.HasBotToken {
		t.Errorf("Expected has_bot_token to be true")
	}

	t.Run("token is stored encrypted", func(t *testing.T) {
		n, err := store.Gateway.GetNotification(context.Background(), created.ID)
		if err != nil {
			t.Fatalf("Failed to load notification: %v", err)
		}
		plain, err := codec.Decrypt(n.TelegramBotToken)
		if err != nil || plain != "123:abc" {
			t.Errorf("Expected token 123:abc, got %q (%v)", plain, err)
		}
	})

	t.Run("smtp channels are validated", func(t *testing.T) {
		w, _ := call(t, router, http.MethodPost, "/notifications", map[string]any{
			"title":     "Mail",
			"type":      "smtp",
			"smtp_host": "mail.example.com",
			"smtp_port": 587,
			"smtp_from": "atlas@example.com",
			"smtp_to":   "not-an-address",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("patch keeps the token", func(t *testing.T) {
		path := "/notifications/" + strconv.FormatInt(created.ID, 10)
		w, resp := call(t, router, http.MethodPatch, path, map[string]any{"telegram_silent": true})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var got NotificationResponse
		_ = json.Unmarshal(resp.Data, &got)
		if !got.TelegramSilent || !got.HasBotToken {
			t.Errorf("Expected silent channel with token, got %+v", got)
		}
	})

	t.Run("list", func(t *testing.T) {
		_, resp := call(t, router, http.MethodGet, "/notifications", nil)
		var got []NotificationResponse
		_ = json.Unmarshal(resp.Data, &got)
		if len(got) != 1 {
			t.Errorf("Expected 1 channel, got %d", len(got))
		}
	})

	t.Run("delete", func(t *testing.T) {
		path := "/notifications/" + strconv.FormatInt(created.ID, 10)
		w, _ := call(t, router, http.MethodDelete, path, nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("Expected 204, got %d", w.Code)
		}
		w, _ = call(t, router, http.MethodGet, path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 after delete, got %d", w.Code)
		}
	})
}

func TestNotificationTestSend(t *testing.T) {
	router, _, sender, _ := setup(t)
	_, resp := call(t, router, http.MethodPost, "/notifications", telegramChannel)
	var created NotificationResponse
	_ = json.Unmarshal(resp.Data, &created)
	path := "/notifications/" + strconv.FormatInt(created.ID, 10) + "/test"

	t.Run("default message", func(t *testing.T) {
		w, resp := call(t, router, http.MethodPost, path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var got TestResponse
		_ = json.Unmarshal(resp.Data, &got)
		if !got.Delivered {
			t.Errorf("Expected delivered to be true")
		}
		if len(sender.subjects) != 1 || sender.subjects[0] != defaultTestSubject {
			t.Errorf("Expected default subject, got %v", sender.subjects)
		}
	})

	t.Run("custom message", func(t *testing.T) {
		_, _ = call(t, router, http.MethodPost, path, TestRequest{Message: "hello"})
		if got := sender.messages[len(sender.messages)-1]; got != "hello" {
			t.Errorf("Expected message hello, got %q", got)
		}
	})

	t.Run("dispatch failure", func(t *testing.T) {
		sender.err = errors.New("chat not found")
		defer func() { sender.err = nil }()

		w, resp := call(t, router, http.MethodPost, path, nil)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("Expected 502, got %d", w.Code)
		}
		if resp.Error == nil || resp.Error.Code != "DISPATCH_FAILED" {
			t.Errorf("Expected DISPATCH_FAILED, got %+v", resp.Error)
		}
	})

	t.Run("missing channel", func(t *testing.T) {
		w, _ := call(t, router, http.MethodPost, "/notifications/404/test", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})
}
