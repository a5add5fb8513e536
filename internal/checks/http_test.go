package checks

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

type plainSecrets struct{}

func (plainSecrets) Decrypt(token string) (string, error) { return token, nil }

type brokenSecrets struct{}

func (brokenSecrets) Decrypt(string) (string, error) { return "", errors.New("bad token") }

func testConfig() *config.Config {
	return &config.Config{
		Checks: config.ChecksConfig{
			HTTP: config.HTTPDefaultsConfig{
				Timeout:      2 * time.Second,
				MaxRedirects: 10,
				UserAgent:    "Atlas-Test/1.0",
			},
			TCPTimeout: time.Second,
			SSHTimeout: time.Second,
			SQLTimeout: time.Second,
		},
	}
}

func httpMonitor(url string) *storage.Monitor {
	return &storage.Monitor{
		ID:               1,
		Title:            "web",
		Type:             storage.MonitorTypeHTTP,
		HTTPURL:          url,
		HTTPMethod:       http.MethodGet,
		HTTPAuthType:     storage.HTTPAuthNone,
		HTTPMaxRedirects: 10,
	}
}

func TestHTTPChecker(t *testing.T) {
	checker := NewHTTPChecker(testConfig(), plainSecrets{})

	t.Run("HTTP checker reports its type", func(t *testing.T) {
		if checker.Type() != "http" {
			t.Errorf("Expected type 'http', got: %s", checker.Type())
		}
	})

	t.Run("Accepted status returns a snapshot", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		m := httpMonitor(srv.URL)
		m.HTTPAcceptedStatusCodes = `["200s"]`

		snap, err := checker.Check(context.Background(), m)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if snap.Feed.StatusCode == nil || *snap.Feed.StatusCode != 204 {
			t.Errorf("Expected status code 204, got %v", snap.Feed.StatusCode)
		}
		if snap.Feed.Ping == nil {
			t.Error("Expected ping to be measured")
		}
		if snap.Drives != nil || snap.Databases != nil {
			t.Error("Expected no children for http monitors")
		}
	})

	t.Run("Rejected status returns a status failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "maintenance")
		}))
		defer srv.Close()

		m := httpMonitor(srv.URL)
		m.HTTPAcceptedStatusCodes = `["200s"]`

		_, err := checker.Check(context.Background(), m)
		var failure *Failure
		if !errors.As(err, &failure) {
			t.Fatalf("Expected *Failure, got %v", err)
		}
		if failure.Code != CodeStatus {
			t.Errorf("Expected code %q, got %q", CodeStatus, failure.Code)
		}
		if failure.Output != "maintenance" {
			t.Errorf("Expected body attached as output, got %q", failure.Output)
		}
	})

	t.Run("Headers body and basic auth are sent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			body, _ := io.ReadAll(r.Body)
			switch {
			case !ok || user != "admin" || pass != "s3cret":
				w.WriteHeader(http.StatusUnauthorized)
			case r.Header.Get("X-Probe") != "yes":
				w.WriteHeader(http.StatusBadRequest)
			case r.Header.Get("Content-Type") != "application/xml" || string(body) != "<ping/>":
				w.WriteHeader(http.StatusUnsupportedMediaType)
			case r.Header.Get("User-Agent") != "Atlas-Test/1.0":
				w.WriteHeader(http.StatusForbidden)
			default:
				w.WriteHeader(http.StatusOK)
			}
		}))
		defer srv.Close()

		m := httpMonitor(srv.URL)
		m.HTTPMethod = http.MethodPost
		m.HTTPHeaders = `{"X-Probe":"yes"}`
		m.HTTPBody = "<ping/>"
		m.HTTPBodyEncoding = storage.HTTPBodyXML
		m.HTTPAuthType = storage.HTTPAuthBasic
		m.HTTPUsername = "admin"
		m.HTTPPassword = "s3cret"
		m.HTTPAcceptedStatusCodes = `["200"]`

		if _, err := checker.Check(context.Background(), m); err != nil {
			t.Errorf("Expected request to be accepted, got %v", err)
		}
	})

	t.Run("Undecryptable password fails without contacting the target", func(t *testing.T) {
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		defer srv.Close()

		m := httpMonitor(srv.URL)
		m.HTTPAuthType = storage.HTTPAuthBasic
		m.HTTPUsername = "admin"
		m.HTTPPassword = "enc:garbage"

		_, err := NewHTTPChecker(testConfig(), brokenSecrets{}).Check(context.Background(), m)
		var failure *Failure
		if !errors.As(err, &failure) || failure.Code != CodeSecret {
			t.Errorf("Expected secret failure, got %v", err)
		}
		if called {
			t.Error("Expected target not to be contacted")
		}
	})

	t.Run("Redirects beyond the limit fail", func(t *testing.T) {
		var srv *httptest.Server
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, srv.URL+"/next", http.StatusFound)
		}))
		defer srv.Close()

		m := httpMonitor(srv.URL)
		m.HTTPMaxRedirects = 2
		if _, err := checker.Check(context.Background(), m); err == nil {
			t.Error("Expected redirect loop to fail")
		}

		m.HTTPMaxRedirects = 0
		m.HTTPAcceptedStatusCodes = `["300s"]`
		snap, err := checker.Check(context.Background(), m)
		if err != nil {
			t.Fatalf("Expected first response to be returned, got %v", err)
		}
		if *snap.Feed.StatusCode != http.StatusFound {
			t.Errorf("Expected 302, got %d", *snap.Feed.StatusCode)
		}
	})
}

func TestHTTPCheckerCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	t.Run("Untrusted certificate fails unless errors are ignored", func(t *testing.T) {
		checker := NewHTTPChecker(testConfig(), plainSecrets{})
		m := httpMonitor(srv.URL)

		_, err := checker.Check(context.Background(), m)
		var failure *Failure
		if !errors.As(err, &failure) || failure.Code != CodeTLS {
			t.Errorf("Expected tls failure, got %v", err)
		}
	})

	t.Run("Ignored errors still report an invalid certificate", func(t *testing.T) {
		checker := NewHTTPChecker(testConfig(), plainSecrets{})
		m := httpMonitor(srv.URL)
		m.HTTPIgnoreSSLErrors = true
		m.HTTPCheckCert = true

		snap, err := checker.Check(context.Background(), m)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if snap.Cert == nil {
			t.Fatal("Expected certificate state")
		}
		if snap.Cert.Valid {
			t.Error("Expected certificate outside the system roots to be invalid")
		}
	})

	t.Run("Trusted certificate reports remaining days", func(t *testing.T) {
		checker := NewHTTPChecker(testConfig(), plainSecrets{})
		roots := x509.NewCertPool()
		roots.AddCert(srv.Certificate())
		checker.roots = roots

		m := httpMonitor(srv.URL)
		m.HTTPIgnoreSSLErrors = true
		m.HTTPCheckCert = true

		snap, err := checker.Check(context.Background(), m)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !snap.Cert.Valid {
			t.Error("Expected certificate to be valid")
		}
		if snap.Cert.Days <= 0 {
			t.Errorf("Expected positive days, got %d", snap.Cert.Days)
		}
		if !snap.Cert.ExpiresAt.Equal(srv.Certificate().NotAfter) {
			t.Errorf("Expected expiry %v, got %v", srv.Certificate().NotAfter, snap.Cert.ExpiresAt)
		}
	})

	t.Run("Certificate is not inspected when disabled", func(t *testing.T) {
		checker := NewHTTPChecker(testConfig(), plainSecrets{})
		m := httpMonitor(srv.URL)
		m.HTTPIgnoreSSLErrors = true

		snap, err := checker.Check(context.Background(), m)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if snap.Cert != nil {
			t.Error("Expected no certificate state")
		}
	})
}
