// Package monitors defines the monitor management endpoints.
package monitors

import "atlas-system/internal/storage"

// MonitorRequest is the payload of create, update and test requests. Nil
// fields are left unchanged on update.
//
// Credential fields are write-only: they are encrypted before storage and
// never returned.
type MonitorRequest struct {
	Title   *string `json:"title,omitempty" binding:"omitempty,min=1,max=100"`
	Type    *string `json:"type,omitempty" binding:"omitempty,oneof=windows ubuntu http sqlServer tcp"`
	Enabled *bool   `json:"enabled,omitempty"`

	Host       *string `json:"host,omitempty"`
	Port       *int    `json:"port,omitempty" binding:"omitempty,min=0,max=65535"`
	Username   *string `json:"username,omitempty"`
	Password   *string `json:"password,omitempty"`
	PrivateKey *string `json:"private_key,omitempty"`

	HTTPURL                 *string `json:"http_url,omitempty"`
	HTTPMethod              *string `json:"http_method,omitempty"`
	HTTPHeaders             *string `json:"http_headers,omitempty"`
	HTTPBody                *string `json:"http_body,omitempty"`
	HTTPBodyEncoding        *string `json:"http_body_encoding,omitempty" binding:"omitempty,oneof=json xml"`
	HTTPAuthType            *string `json:"http_auth_type,omitempty" binding:"omitempty,oneof=none basic ntlm"`
	HTTPUsername            *string `json:"http_username,omitempty"`
	HTTPPassword            *string `json:"http_password,omitempty"`
	HTTPDomain              *string `json:"http_domain,omitempty"`
	HTTPWorkstation         *string `json:"http_workstation,omitempty"`
	HTTPIgnoreSSLErrors     *bool   `json:"http_ignore_ssl_errors,omitempty"`
	HTTPMaxRedirects        *int    `json:"http_max_redirects,omitempty" binding:"omitempty,min=0,max=50"`
	HTTPAcceptedStatusCodes *string `json:"http_accepted_status_codes,omitempty"`
	HTTPCheckCert           *bool   `json:"http_check_cert,omitempty"`

	SQLConnectionString *string `json:"sql_connection_string,omitempty"`

	ConnectionNotify                   *bool `json:"connection_notify,omitempty"`
	ConnectionNotifyResendAfterMinutes *int  `json:"connection_notify_resend_after_minutes,omitempty"`
	ConnectionNotifyRetry              *int  `json:"connection_notify_retry,omitempty"`

	RebootNotify *bool `json:"reboot_notify,omitempty"`

	CertNotify                   *bool `json:"cert_notify,omitempty"`
	CertNotifyResendAfterMinutes *int  `json:"cert_notify_resend_after_minutes,omitempty"`

	CPUNotify                   *bool    `json:"cpu_notify,omitempty"`
	CPUNotifyValue              *float64 `json:"cpu_notify_value,omitempty"`
	CPUNotifyResendAfterMinutes *int     `json:"cpu_notify_resend_after_minutes,omitempty"`

	MemoryNotify                   *bool    `json:"memory_notify,omitempty"`
	MemoryNotifyValue              *float64 `json:"memory_notify_value,omitempty"`
	MemoryNotifyResendAfterMinutes *int     `json:"memory_notify_resend_after_minutes,omitempty"`
}

// encrypter turns plaintext credentials into stored tokens.
type encrypter interface {
	Encrypt(plaintext string) (string, error)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// apply copies the non-nil fields of r onto m, encrypting credentials.
func (r *MonitorRequest) apply(m *storage.Monitor, secrets encrypter) error {
	set(&m.Title, r.Title)
	set(&m.Type, r.Type)
	set(&m.Enabled, r.Enabled)

	set(&m.Host, r.Host)
	set(&m.Port, r.Port)
	set(&m.Username, r.Username)

	set(&m.HTTPURL, r.HTTPURL)
	set(&m.HTTPMethod, r.HTTPMethod)
	set(&m.HTTPHeaders, r.HTTPHeaders)
	set(&m.HTTPBody, r.HTTPBody)
	set(&m.HTTPBodyEncoding, r.HTTPBodyEncoding)
	set(&m.HTTPAuthType, r.HTTPAuthType)
	set(&m.HTTPUsername, r.HTTPUsername)
	set(&m.HTTPDomain, r.HTTPDomain)
	set(&m.HTTPWorkstation, r.HTTPWorkstation)
	set(&m.HTTPIgnoreSSLErrors, r.HTTPIgnoreSSLErrors)
	set(&m.HTTPMaxRedirects, r.HTTPMaxRedirects)
	set(&m.HTTPAcceptedStatusCodes, r.HTTPAcceptedStatusCodes)
	set(&m.HTTPCheckCert, r.HTTPCheckCert)

	set(&m.ConnectionNotify, r.ConnectionNotify)
	set(&m.ConnectionNotifyResendAfterMinutes, r.ConnectionNotifyResendAfterMinutes)
	set(&m.ConnectionNotifyRetry, r.ConnectionNotifyRetry)
	set(&m.RebootNotify, r.RebootNotify)
	set(&m.CertNotify, r.CertNotify)
	set(&m.CertNotifyResendAfterMinutes, r.CertNotifyResendAfterMinutes)
	set(&m.CPUNotify, r.CPUNotify)
	set(&m.CPUNotifyValue, r.CPUNotifyValue)
	set(&m.CPUNotifyResendAfterMinutes, r.CPUNotifyResendAfterMinutes)
	set(&m.MemoryNotify, r.MemoryNotify)
	set(&m.MemoryNotifyValue, r.MemoryNotifyValue)
	set(&m.MemoryNotifyResendAfterMinutes, r.MemoryNotifyResendAfterMinutes)

	for _, c := range []struct {
		dst *string
		src *string
	}{
		{&m.Password, r.Password},
		{&m.PrivateKey, r.PrivateKey},
		{&m.HTTPPassword, r.HTTPPassword},
		{&m.SQLConnectionString, r.SQLConnectionString},
	} {
		if c.src == nil {
			continue
		}
		token, err := secrets.Encrypt(*c.src)
		if err != nil {
			return err
		}
		*c.dst = token
	}
	return nil
}

// newMonitor returns a monitor with the create defaults. The redirect
// limit comes from checks.http.max_redirects.
func newMonitor(maxRedirects int) *storage.Monitor {
	return &storage.Monitor{
		Enabled:          true,
		HTTPMethod:       "GET",
		HTTPBodyEncoding: storage.HTTPBodyJSON,
		HTTPAuthType:     storage.HTTPAuthNone,
		HTTPMaxRedirects: maxRedirects,
	}
}

// MonitorResponse is a monitor with its latest feed row.
type MonitorResponse struct {
	*storage.Monitor
	HasPassword   bool                 `json:"has_password"`
	HasPrivateKey bool                 `json:"has_private_key"`
	LatestFeed    *storage.MonitorFeed `json:"latest_feed,omitempty"`
}

func newMonitorResponse(m *storage.Monitor, feed *storage.MonitorFeed) MonitorResponse {
	return MonitorResponse{
		Monitor:       m,
		HasPassword:   m.Password != "" || m.HTTPPassword != "",
		HasPrivateKey: m.PrivateKey != "",
		LatestFeed:    feed,
	}
}

// TestResponse is the outcome of a synchronous test check.
type TestResponse struct {
	OK         bool               `json:"ok"`
	Code       string             `json:"code,omitempty"`
	Error      string             `json:"error,omitempty"`
	Ping       *int64             `json:"ping,omitempty"`
	StatusCode *int               `json:"status_code,omitempty"`
	Facts      *storage.HostFacts `json:"facts,omitempty"`
	Cert       *storage.CertState `json:"cert,omitempty"`
	Drives     int                `json:"drives"`
	Databases  int                `json:"databases"`
	DurationMs int64              `json:"duration_ms"`
}

// DriveRequest updates the notify settings of a drive.
type DriveRequest struct {
	PercentFreeNotify                   *bool    `json:"percent_free_notify,omitempty"`
	PercentFreeNotifyValue              *float64 `json:"percent_free_notify_value,omitempty"`
	PercentFreeNotifyResendAfterMinutes *int     `json:"percent_free_notify_resend_after_minutes,omitempty"`
	SizeFreeNotify                      *bool    `json:"size_free_notify,omitempty"`
	SizeFreeNotifyValue                 *float64 `json:"size_free_notify_value,omitempty"`
	SizeFreeNotifyResendAfterMinutes    *int     `json:"size_free_notify_resend_after_minutes,omitempty"`
	GrowthRateNotify                    *bool    `json:"growth_rate_notify,omitempty"`
	GrowthRateNotifyValue               *float64 `json:"growth_rate_notify_value,omitempty"`
	GrowthRateNotifyResendAfterMinutes  *int     `json:"growth_rate_notify_resend_after_minutes,omitempty"`
	MissingNotify                       *bool    `json:"missing_notify,omitempty"`
	MissingNotifyResendAfterMinutes     *int     `json:"missing_notify_resend_after_minutes,omitempty"`
}

func (r *DriveRequest) apply(d *storage.Drive) {
	set(&d.PercentFreeNotify, r.PercentFreeNotify)
	set(&d.PercentFreeNotifyValue, r.PercentFreeNotifyValue)
	set(&d.PercentFreeNotifyResendAfterMinutes, r.PercentFreeNotifyResendAfterMinutes)
	set(&d.SizeFreeNotify, r.SizeFreeNotify)
	set(&d.SizeFreeNotifyValue, r.SizeFreeNotifyValue)
	set(&d.SizeFreeNotifyResendAfterMinutes, r.SizeFreeNotifyResendAfterMinutes)
	set(&d.GrowthRateNotify, r.GrowthRateNotify)
	set(&d.GrowthRateNotifyValue, r.GrowthRateNotifyValue)
	set(&d.GrowthRateNotifyResendAfterMinutes, r.GrowthRateNotifyResendAfterMinutes)
	set(&d.MissingNotify, r.MissingNotify)
	set(&d.MissingNotifyResendAfterMinutes, r.MissingNotifyResendAfterMinutes)
}

// FileRequest updates the notify settings of a database file.
type FileRequest struct {
	PercentFreeNotify                   *bool    `json:"percent_free_notify,omitempty"`
	PercentFreeNotifyValue              *float64 `json:"percent_free_notify_value,omitempty"`
	PercentFreeNotifyResendAfterMinutes *int     `json:"percent_free_notify_resend_after_minutes,omitempty"`
}

func (r *FileRequest) apply(f *storage.DatabaseFile) {
	set(&f.PercentFreeNotify, r.PercentFreeNotify)
	set(&f.PercentFreeNotifyValue, r.PercentFreeNotifyValue)
	set(&f.PercentFreeNotifyResendAfterMinutes, r.PercentFreeNotifyResendAfterMinutes)
}

// LinksRequest replaces the channels linked to a notify dimension.
type LinksRequest struct {
	NotificationIDs []int64 `json:"notification_ids"`
}

// LinksResponse groups the notify links of a monitor and its children.
type LinksResponse struct {
	Monitor []storage.NotifyLink `json:"monitor"`
	Drives  []storage.NotifyLink `json:"drives"`
	Files   []storage.NotifyLink `json:"files"`
}
