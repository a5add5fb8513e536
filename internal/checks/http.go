package checks

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/go-ntlmssp"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

// HTTPChecker implements http monitors.
type HTTPChecker struct {
	*BaseChecker
	defaults config.HTTPDefaultsConfig

	// roots verifies inspected certificates; nil means the system pool.
	roots *x509.CertPool
	now   func() time.Time
}

// NewHTTPChecker creates a new HTTP checker instance.
func NewHTTPChecker(cfg *config.Config, secrets Decrypter) *HTTPChecker {
	return &HTTPChecker{
		BaseChecker: NewBaseChecker(secrets),
		defaults:    cfg.Checks.HTTP,
		now:         time.Now,
	}
}

// Type returns "http".
func (h *HTTPChecker) Type() string {
	return storage.MonitorTypeHTTP
}

// Check issues one request and validates the status against the monitor's
// accepted status codes. When certificate checking is on and the target is
// https, the peer chain is inspected as well.
func (h *HTTPChecker) Check(ctx context.Context, m *storage.Monitor) (*storage.Snapshot, error) {
	accepted, err := ParseAcceptedStatusCodes(m.HTTPAcceptedStatusCodes)
	if err != nil {
		return nil, &Failure{Op: "config", Code: CodeParse, Err: err}
	}

	client := h.newClient(m)
	defer client.CloseIdleConnections()

	req, err := h.createRequest(ctx, m)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, h.failure("request", err, "")
	}
	defer resp.Body.Close()
	ping := elapsedMs(start)

	if !CheckStatusCode(resp.StatusCode, accepted) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxOutput))
		return nil, &Failure{
			Op:     "request",
			Code:   CodeStatus,
			Output: truncate(string(body)),
			Err:    fmt.Errorf("unexpected status code %d", resp.StatusCode),
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	snapshot := newSnapshot(ping)
	status := resp.StatusCode
	snapshot.Feed.StatusCode = &status

	if m.HTTPCheckCert && resp.TLS != nil {
		snapshot.Cert = h.inspectCertificate(resp.TLS, req.URL.Hostname())
	}

	return snapshot, nil
}

// newClient builds a client for one check. Each check gets its own
// transport so TLS and auth settings never leak between monitors.
func (h *HTTPChecker) newClient(m *storage.Monitor) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: m.HTTPIgnoreSSLErrors}

	var rt http.RoundTripper = transport
	if m.HTTPAuthType == storage.HTTPAuthNTLM {
		rt = ntlmssp.Negotiator{RoundTripper: transport}
	}

	timeout := h.defaults.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	maxRedirects := m.HTTPMaxRedirects
	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if maxRedirects <= 0 {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// createRequest builds the request from the monitor's method, headers,
// body and credentials.
func (h *HTTPChecker) createRequest(ctx context.Context, m *storage.Monitor) (*http.Request, error) {
	method := m.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if m.HTTPBody != "" {
		body = strings.NewReader(m.HTTPBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.HTTPURL, body)
	if err != nil {
		return nil, &Failure{Op: "config", Code: CodeParse, Err: err}
	}

	if m.HTTPHeaders != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(m.HTTPHeaders), &headers); err != nil {
			return nil, &Failure{Op: "config", Code: CodeParse, Err: fmt.Errorf("invalid headers: %w", err)}
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}
	}

	if m.HTTPBody != "" && req.Header.Get("Content-Type") == "" {
		if m.HTTPBodyEncoding == storage.HTTPBodyXML {
			req.Header.Set("Content-Type", "application/xml")
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	if req.Header.Get("User-Agent") == "" && h.defaults.UserAgent != "" {
		req.Header.Set("User-Agent", h.defaults.UserAgent)
	}

	switch m.HTTPAuthType {
	case storage.HTTPAuthBasic, storage.HTTPAuthNTLM:
		password, err := h.reveal("http password", m.HTTPPassword)
		if err != nil {
			return nil, err
		}
		user := m.HTTPUsername
		if m.HTTPAuthType == storage.HTTPAuthNTLM && m.HTTPDomain != "" {
			user = m.HTTPDomain + `\` + user
		}
		// The NTLM negotiator reads the credentials from the basic auth header.
		req.SetBasicAuth(user, password)
	}

	return req, nil
}

// inspectCertificate verifies the leaf against the roots regardless of
// the monitor's ignore-SSL-errors toggle and reports its remaining lifetime.
func (h *HTTPChecker) inspectCertificate(state *tls.ConnectionState, host string) *storage.CertState {
	if len(state.PeerCertificates) == 0 {
		return nil
	}

	leaf := state.PeerCertificates[0]
	intermediates := x509.NewCertPool()
	for _, cert := range state.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}

	now := h.now()
	_, err := leaf.Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         h.roots,
		Intermediates: intermediates,
		CurrentTime:   now,
	})

	issuer := leaf.Issuer.CommonName
	if issuer == "" && len(leaf.Issuer.Organization) > 0 {
		issuer = leaf.Issuer.Organization[0]
	}

	return &storage.CertState{
		Valid:     err == nil,
		Days:      int(leaf.NotAfter.Sub(now).Hours() / 24),
		ExpiresAt: leaf.NotAfter.UTC(),
		Issuer:    issuer,
	}
}
