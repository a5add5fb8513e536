package storage

import (
	"encoding/json"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

var (
	validMonitorTypes = []string{
		MonitorTypeWindows, MonitorTypeUbuntu, MonitorTypeHTTP, MonitorTypeSQLServer, MonitorTypeTCP,
	}
	validHTTPMethods     = []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	validHTTPAuthTypes   = []string{HTTPAuthNone, HTTPAuthBasic, HTTPAuthNTLM}
	validBodyEncodings   = []string{HTTPBodyJSON, HTTPBodyXML}
	validSMTPSecurity    = []string{SMTPSecurityNone, SMTPSecurityStartTLS, SMTPSecurityTLS}
	validLogTypes        = []string{LogTypeError, LogTypeWarning, LogTypeSuccess}
	acceptedStatusFormat = regexp.MustCompile(`^([1-5][0-9]{2}|[1-5]00s)$`)
)

// IsValidMonitorType reports whether t is a supported monitor type.
func IsValidMonitorType(t string) bool {
	return slices.Contains(validMonitorTypes, t)
}

// IsValidLogType reports whether t is a supported monitor log severity.
func IsValidLogType(t string) bool {
	return slices.Contains(validLogTypes, t)
}

// ValidateMonitor validates and normalizes a Monitor before it is stored.
//
// Credential fields are only checked for presence; they may already be
// encrypted tokens.
func ValidateMonitor(m *Monitor) error {
	m.Title = strings.TrimSpace(m.Title)
	if m.Title == "" {
		return fmt.Errorf("monitor title cannot be empty")
	}
	if len(m.Title) > 100 {
		return fmt.Errorf("monitor title too long (max 100 chars)")
	}

	if !IsValidMonitorType(m.Type) {
		return fmt.Errorf("unsupported monitor type: %s", m.Type)
	}

	switch m.Type {
	case MonitorTypeWindows, MonitorTypeUbuntu:
		if err := validateHost(m.Host); err != nil {
			return fmt.Errorf("invalid host: %w", err)
		}
		if m.Port == 0 {
			m.Port = 22
		}
		if m.Username == "" {
			return fmt.Errorf("username is required for %s monitors", m.Type)
		}
		if m.Password == "" && m.PrivateKey == "" {
			return fmt.Errorf("password or private key is required for %s monitors", m.Type)
		}

	case MonitorTypeHTTP:
		if err := validateHTTPMonitor(m); err != nil {
			return err
		}

	case MonitorTypeSQLServer:
		if m.SQLConnectionString == "" {
			return fmt.Errorf("connection string is required for sqlServer monitors")
		}

	case MonitorTypeTCP:
		if err := validateHost(m.Host); err != nil {
			return fmt.Errorf("invalid host: %w", err)
		}
	}

	if m.Port < 0 || m.Port > 65535 {
		return fmt.Errorf("port out of range (1-65535)")
	}
	if m.Type == MonitorTypeTCP && m.Port == 0 {
		return fmt.Errorf("port is required for tcp monitors")
	}

	for name, minutes := range map[string]int{
		"connection": m.ConnectionNotifyResendAfterMinutes,
		"cert":       m.CertNotifyResendAfterMinutes,
		"cpu":        m.CPUNotifyResendAfterMinutes,
		"memory":     m.MemoryNotifyResendAfterMinutes,
	} {
		if minutes < 0 {
			return fmt.Errorf("%s resend interval cannot be negative", name)
		}
	}
	if m.ConnectionNotifyRetry < 0 || m.ConnectionNotifyRetry > 100 {
		return fmt.Errorf("connection retry threshold must be between 0-100")
	}
	if err := validatePercent("cpu notify value", m.CPUNotifyValue); err != nil {
		return err
	}
	if err := validatePercent("memory notify value", m.MemoryNotifyValue); err != nil {
		return err
	}

	return nil
}

func validateHTTPMonitor(m *Monitor) error {
	if err := validateHTTPURL(m.HTTPURL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	m.HTTPMethod = strings.ToUpper(strings.TrimSpace(m.HTTPMethod))
	if m.HTTPMethod == "" {
		m.HTTPMethod = "GET"
	}
	if !slices.Contains(validHTTPMethods, m.HTTPMethod) {
		return fmt.Errorf("unsupported http method: %s", m.HTTPMethod)
	}

	if m.HTTPBodyEncoding == "" {
		m.HTTPBodyEncoding = HTTPBodyJSON
	}
	if !slices.Contains(validBodyEncodings, m.HTTPBodyEncoding) {
		return fmt.Errorf("unsupported body encoding: %s", m.HTTPBodyEncoding)
	}

	if m.HTTPAuthType == "" {
		m.HTTPAuthType = HTTPAuthNone
	}
	if !slices.Contains(validHTTPAuthTypes, m.HTTPAuthType) {
		return fmt.Errorf("unsupported auth type: %s", m.HTTPAuthType)
	}
	if m.HTTPAuthType != HTTPAuthNone && m.HTTPUsername == "" {
		return fmt.Errorf("username is required for %s auth", m.HTTPAuthType)
	}

	if m.HTTPHeaders != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(m.HTTPHeaders), &headers); err != nil {
			return fmt.Errorf("headers must be a JSON object of strings: %w", err)
		}
	}

	if m.HTTPAcceptedStatusCodes != "" {
		var codes []string
		if err := json.Unmarshal([]byte(m.HTTPAcceptedStatusCodes), &codes); err != nil {
			return fmt.Errorf("accepted status codes must be a JSON array of strings: %w", err)
		}
		for _, code := range codes {
			if !acceptedStatusFormat.MatchString(code) {
				return fmt.Errorf("invalid accepted status code: %q", code)
			}
		}
	}

	if m.HTTPMaxRedirects < 0 || m.HTTPMaxRedirects > 50 {
		return fmt.Errorf("max redirects must be between 0-50")
	}

	return nil
}

// ValidateDrive validates the notify settings of a Drive.
func ValidateDrive(d *Drive) error {
	if err := validatePercent("percent free notify value", d.PercentFreeNotifyValue); err != nil {
		return err
	}
	if d.SizeFreeNotifyValue < 0 {
		return fmt.Errorf("size free notify value cannot be negative")
	}
	if d.GrowthRateNotifyValue < 0 {
		return fmt.Errorf("growth rate notify value cannot be negative")
	}
	if d.PercentFreeNotifyResendAfterMinutes < 0 || d.SizeFreeNotifyResendAfterMinutes < 0 ||
		d.GrowthRateNotifyResendAfterMinutes < 0 || d.MissingNotifyResendAfterMinutes < 0 {
		return fmt.Errorf("resend interval cannot be negative")
	}
	return nil
}

// ValidateDatabaseFile validates the notify settings of a DatabaseFile.
func ValidateDatabaseFile(f *DatabaseFile) error {
	if err := validatePercent("percent free notify value", f.PercentFreeNotifyValue); err != nil {
		return err
	}
	if f.PercentFreeNotifyResendAfterMinutes < 0 {
		return fmt.Errorf("resend interval cannot be negative")
	}
	return nil
}

// ValidateNotification validates and normalizes a Notification channel.
func ValidateNotification(n *Notification) error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return fmt.Errorf("notification title cannot be empty")
	}
	if len(n.Title) > 100 {
		return fmt.Errorf("notification title too long (max 100 chars)")
	}

	switch n.Type {
	case NotificationTypeSMTP:
		if err := validateHost(n.SMTPHost); err != nil {
			return fmt.Errorf("invalid smtp host: %w", err)
		}
		if n.SMTPPort < 1 || n.SMTPPort > 65535 {
			return fmt.Errorf("smtp port out of range (1-65535)")
		}
		n.SMTPSecurity = strings.ToLower(n.SMTPSecurity)
		if n.SMTPSecurity == "" {
			n.SMTPSecurity = SMTPSecurityNone
		}
		if !slices.Contains(validSMTPSecurity, n.SMTPSecurity) {
			return fmt.Errorf("unsupported smtp security: %s", n.SMTPSecurity)
		}
		if _, err := mail.ParseAddress(n.SMTPFrom); err != nil {
			return fmt.Errorf("invalid from address: %w", err)
		}
		recipients := SplitRecipients(n.SMTPTo)
		if len(recipients) == 0 {
			return fmt.Errorf("at least one recipient is required")
		}
		for _, to := range recipients {
			if _, err := mail.ParseAddress(to); err != nil {
				return fmt.Errorf("invalid recipient %q: %w", to, err)
			}
		}

	case NotificationTypeTelegram:
		if n.TelegramBotToken == "" {
			return fmt.Errorf("telegram bot token is required")
		}
		if strings.TrimSpace(n.TelegramChatID) == "" {
			return fmt.Errorf("telegram chat id is required")
		}
		if n.TelegramThreadID != nil && *n.TelegramThreadID <= 0 {
			return fmt.Errorf("telegram thread id must be positive")
		}

	default:
		return fmt.Errorf("unsupported notification type: %s", n.Type)
	}

	return nil
}

// SplitRecipients splits a comma or semicolon separated address list.
func SplitRecipients(list string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validatePercent(name string, v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s must be between 0-100", name)
	}
	return nil
}

// validateHTTPURL validates HTTP/HTTPS monitor targets.
func validateHTTPURL(target string) error {
	if target == "" {
		return fmt.Errorf("url cannot be empty")
	}

	parsedURL, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("invalid scheme: %s (only http and https supported)", parsedURL.Scheme)
	}

	if parsedURL.Hostname() == "" {
		return fmt.Errorf("missing host")
	}

	return validateHost(parsedURL.Hostname())
}

// validateHost accepts IP addresses and RFC 1123 style host names.
func validateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 {
		return fmt.Errorf("hostname too long (max 253 chars)")
	}
	if strings.Contains(host, "..") || strings.HasPrefix(host, ".") || strings.HasSuffix(host, ".") {
		return fmt.Errorf("invalid hostname format")
	}
	for _, char := range host {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '-' || char == '_') {
			return fmt.Errorf("hostname contains invalid characters")
		}
	}
	return nil
}
