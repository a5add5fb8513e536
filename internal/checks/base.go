package checks

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"atlas-system/internal/storage"
)

// Failure codes shared by all checkers.
const (
	CodeTimeout     = "timeout"
	CodeRefused     = "refused"
	CodeUnreachable = "unreachable"
	CodeDNS         = "dns"
	CodeTLS         = "tls"
	CodeAuth        = "auth"
	CodeStatus      = "status"
	CodeExit        = "exit"
	CodeParse       = "parse"
	CodeSecret      = "secret"
	CodeError       = "error"
)

// maxOutput bounds the raw output attached to a Failure.
const maxOutput = 4096

// Failure is the error returned by a checker when the target could not be
// probed or its output could not be understood.
type Failure struct {
	// Op is the step that failed (dial, request, exec, query, decode, ...).
	Op string
	// Code classifies the failure, see the Code constants.
	Code string
	// Output is the raw remote output, truncated.
	Output string
	Err    error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s failed", f.Op)
	if f.Code != "" {
		msg += " (" + f.Code + ")"
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	if f.Output != "" {
		msg += "\n" + f.Output
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Decrypter turns stored credential tokens back into plaintext.
type Decrypter interface {
	Decrypt(token string) (string, error)
}

// BaseChecker provides the shared helpers of every checker.
type BaseChecker struct {
	secrets Decrypter
}

// NewBaseChecker creates a base checker decrypting credentials with secrets.
func NewBaseChecker(secrets Decrypter) *BaseChecker {
	return &BaseChecker{secrets: secrets}
}

// reveal decrypts a credential. The error never carries the token.
func (b *BaseChecker) reveal(field, token string) (string, error) {
	plain, err := b.secrets.Decrypt(token)
	if err != nil {
		return "", &Failure{Op: "decrypt " + field, Code: CodeSecret, Err: errors.New("credential could not be decrypted")}
	}
	return plain, nil
}

// failure wraps err as a Failure, classifying it unless it already is one.
func (b *BaseChecker) failure(op string, err error, output string) error {
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	return &Failure{Op: op, Code: DetermineErrorCode(err), Output: truncate(output), Err: err}
}

// DetermineErrorCode classifies a transport error into a Failure code.
func DetermineErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var (
		netErr      net.Error
		dnsErr      *net.DNSError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		certErr     x509.CertificateInvalidError
		recordErr   tls.RecordHeaderError
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return CodeTimeout
	case errors.As(err, &dnsErr):
		return CodeDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return CodeUnreachable
	case errors.As(err, &unknownAuth), errors.As(err, &hostErr), errors.As(err, &certErr), errors.As(err, &recordErr):
		return CodeTLS
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return CodeTimeout
	case strings.Contains(msg, "connection refused"):
		return CodeRefused
	case strings.Contains(msg, "no route to host"), strings.Contains(msg, "host unreachable"):
		return CodeUnreachable
	}
	return CodeError
}

// elapsedMs returns the milliseconds since start as a feed ping sample.
func elapsedMs(start time.Time) *int64 {
	ms := time.Since(start).Milliseconds()
	return &ms
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutput {
		return s[:maxOutput] + "..."
	}
	return s
}

func newSnapshot(ping *int64) *storage.Snapshot {
	return &storage.Snapshot{Feed: storage.MonitorFeed{Ping: ping}}
}
