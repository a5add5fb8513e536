package secret

import (
	"errors"
	"strings"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	codec, err := New("a-test-key-of-some-length")
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}

	t.Run("Encrypted token carries prefix and decrypts back", func(t *testing.T) {
		token, err := codec.Encrypt("p@ssw0rd")
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if !strings.HasPrefix(token, Prefix) {
			t.Errorf("Expected token with prefix %q, got %q", Prefix, token)
		}
		if strings.Contains(token, "p@ssw0rd") {
			t.Error("Expected token not to contain the plaintext")
		}

		plain, err := codec.Decrypt(token)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if plain != "p@ssw0rd" {
			t.Errorf("Expected 'p@ssw0rd', got %q", plain)
		}
	})

	t.Run("Same plaintext encrypts to different tokens", func(t *testing.T) {
		a, _ := codec.Encrypt("same")
		b, _ := codec.Encrypt("same")
		if a == b {
			t.Error("Expected random nonces to produce different tokens")
		}
	})

	t.Run("Empty string stays empty", func(t *testing.T) {
		token, err := codec.Encrypt("")
		if err != nil || token != "" {
			t.Errorf("Expected empty token, got %q (err %v)", token, err)
		}
		plain, err := codec.Decrypt("")
		if err != nil || plain != "" {
			t.Errorf("Expected empty plaintext, got %q (err %v)", plain, err)
		}
	})
}

func TestCodecRejectsInvalidTokens(t *testing.T) {
	codec, _ := New("first-key-0123456789")
	other, _ := New("second-key-0123456789")

	token, err := other.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"plaintext without prefix", "secret"},
		{"bad base64", Prefix + "***"},
		{"too short", Prefix + "AAAA"},
		{"different key", token},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decrypt(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("Expected error for empty key")
	}
}
