package storage

import (
	"time"
)

// Struct tags map fields to columns: `db:"column_name,flag1,flag2"`.
//
// Supported flags:
//   - primary: marks the primary key
//   - auto_increment: skipped on INSERT
//   - readonly: skipped on INSERT and UPDATE (runtime state owned by Gateway)
//
// A "-" tag excludes the field from database operations.

// Monitor is a monitored target with its connection parameters, the facts
// collected by the last check and the state of every notify dimension.
//
// Credential columns (Password, PrivateKey, HTTPPassword,
// SQLConnectionString) hold Secret Codec tokens, never plaintext.
type Monitor struct {
	ID      int64  `db:"id,primary,auto_increment" json:"id"`
	Title   string `db:"title" json:"title"`
	Type    string `db:"type" json:"type"`
	Enabled bool   `db:"enabled" json:"enabled"`

	// SSH / TCP connection
	Host       string `db:"host" json:"host"`
	Port       int    `db:"port" json:"port"`
	Username   string `db:"username" json:"username"`
	Password   string `db:"password" json:"-"`
	PrivateKey string `db:"private_key" json:"-"`

	// HTTP
	HTTPURL                 string `db:"http_url" json:"http_url"`
	HTTPMethod              string `db:"http_method" json:"http_method"`
	HTTPHeaders             string `db:"http_headers" json:"http_headers"`
	HTTPBody                string `db:"http_body" json:"http_body"`
	HTTPBodyEncoding        string `db:"http_body_encoding" json:"http_body_encoding"`
	HTTPAuthType            string `db:"http_auth_type" json:"http_auth_type"`
	HTTPUsername            string `db:"http_username" json:"http_username"`
	HTTPPassword            string `db:"http_password" json:"-"`
	HTTPDomain              string `db:"http_domain" json:"http_domain"`
	HTTPWorkstation         string `db:"http_workstation" json:"http_workstation"`
	HTTPIgnoreSSLErrors     bool   `db:"http_ignore_ssl_errors" json:"http_ignore_ssl_errors"`
	HTTPMaxRedirects        int    `db:"http_max_redirects" json:"http_max_redirects"`
	HTTPAcceptedStatusCodes string `db:"http_accepted_status_codes" json:"http_accepted_status_codes"`
	HTTPCheckCert           bool   `db:"http_check_cert" json:"http_check_cert"`

	// SQL Server
	SQLConnectionString string `db:"sql_connection_string" json:"-"`

	// Collected facts
	Name         string     `db:"name,readonly" json:"name"`
	OS           string     `db:"os,readonly" json:"os"`
	OSVersion    string     `db:"os_version,readonly" json:"os_version"`
	Model        string     `db:"model,readonly" json:"model"`
	Manufacturer string     `db:"manufacturer,readonly" json:"manufacturer"`
	Version      string     `db:"version,readonly" json:"version"`
	LastBootTime *time.Time `db:"last_boot_time,readonly" json:"last_boot_time"`
	LastCheckAt  *time.Time `db:"last_check_at,readonly" json:"last_check_at"`
	HasError     bool       `db:"has_error,readonly" json:"has_error"`

	// Certificate (http monitors with HTTPCheckCert)
	CertValid     *bool      `db:"cert_valid,readonly" json:"cert_valid"`
	CertDays      *int       `db:"cert_days,readonly" json:"cert_days"`
	CertExpiresAt *time.Time `db:"cert_expires_at,readonly" json:"cert_expires_at"`
	CertIssuer    string     `db:"cert_issuer,readonly" json:"cert_issuer"`

	// Notify: connection / collection failure
	ConnectionNotify                   bool       `db:"connection_notify" json:"connection_notify"`
	ConnectionNotifyResendAfterMinutes int        `db:"connection_notify_resend_after_minutes" json:"connection_notify_resend_after_minutes"`
	ConnectionNotifyRetry              int        `db:"connection_notify_retry" json:"connection_notify_retry"`
	ConnectionNotifyRetried            *int       `db:"connection_notify_retried,readonly" json:"connection_notify_retried"`
	ConnectionNotifySentAt             *time.Time `db:"connection_notify_sent_at,readonly" json:"connection_notify_sent_at"`

	// Notify: reboot detected (edge-triggered, no state)
	RebootNotify bool `db:"reboot_notify" json:"reboot_notify"`

	// Notify: certificate invalid or expiring
	CertNotify                   bool       `db:"cert_notify" json:"cert_notify"`
	CertNotifyResendAfterMinutes int        `db:"cert_notify_resend_after_minutes" json:"cert_notify_resend_after_minutes"`
	CertNotifySentAt             *time.Time `db:"cert_notify_sent_at,readonly" json:"cert_notify_sent_at"`

	// Notify: CPU load percent >= value
	CPUNotify                   bool       `db:"cpu_notify" json:"cpu_notify"`
	CPUNotifyValue              float64    `db:"cpu_notify_value" json:"cpu_notify_value"`
	CPUNotifyResendAfterMinutes int        `db:"cpu_notify_resend_after_minutes" json:"cpu_notify_resend_after_minutes"`
	CPUNotifySentAt             *time.Time `db:"cpu_notify_sent_at,readonly" json:"cpu_notify_sent_at"`

	// Notify: memory percent free <= value
	MemoryNotify                   bool       `db:"memory_notify" json:"memory_notify"`
	MemoryNotifyValue              float64    `db:"memory_notify_value" json:"memory_notify_value"`
	MemoryNotifyResendAfterMinutes int        `db:"memory_notify_resend_after_minutes" json:"memory_notify_resend_after_minutes"`
	MemoryNotifySentAt             *time.Time `db:"memory_notify_sent_at,readonly" json:"memory_notify_sent_at"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Drive is a filesystem mount of a windows or ubuntu monitor.
//
// Size, Used and Free are bytes; GrowthRate is bytes per day.
type Drive struct {
	ID           int64    `db:"id,primary,auto_increment" json:"id"`
	MonitorID    int64    `db:"monitor_id" json:"monitor_id"`
	Root         string   `db:"root" json:"root"`
	Name         string   `db:"name" json:"name"`
	Location     string   `db:"location" json:"location"`
	Size         int64    `db:"size" json:"size"`
	Used         int64    `db:"used" json:"used"`
	Free         int64    `db:"free" json:"free"`
	Missing      bool     `db:"missing" json:"missing"`
	DaysTillFull *int64   `db:"days_till_full" json:"days_till_full"`
	GrowthRate   *float64 `db:"growth_rate" json:"growth_rate"`

	PercentFreeNotify                   bool       `db:"percent_free_notify" json:"percent_free_notify"`
	PercentFreeNotifyValue              float64    `db:"percent_free_notify_value" json:"percent_free_notify_value"`
	PercentFreeNotifyResendAfterMinutes int        `db:"percent_free_notify_resend_after_minutes" json:"percent_free_notify_resend_after_minutes"`
	PercentFreeNotifySentAt             *time.Time `db:"percent_free_notify_sent_at,readonly" json:"percent_free_notify_sent_at"`

	// SizeFreeNotifyValue is in GB.
	SizeFreeNotify                   bool       `db:"size_free_notify" json:"size_free_notify"`
	SizeFreeNotifyValue              float64    `db:"size_free_notify_value" json:"size_free_notify_value"`
	SizeFreeNotifyResendAfterMinutes int        `db:"size_free_notify_resend_after_minutes" json:"size_free_notify_resend_after_minutes"`
	SizeFreeNotifySentAt             *time.Time `db:"size_free_notify_sent_at,readonly" json:"size_free_notify_sent_at"`

	// GrowthRateNotifyValue is in GB per day.
	GrowthRateNotify                   bool       `db:"growth_rate_notify" json:"growth_rate_notify"`
	GrowthRateNotifyValue              float64    `db:"growth_rate_notify_value" json:"growth_rate_notify_value"`
	GrowthRateNotifyResendAfterMinutes int        `db:"growth_rate_notify_resend_after_minutes" json:"growth_rate_notify_resend_after_minutes"`
	GrowthRateNotifySentAt             *time.Time `db:"growth_rate_notify_sent_at,readonly" json:"growth_rate_notify_sent_at"`

	MissingNotify                   bool       `db:"missing_notify" json:"missing_notify"`
	MissingNotifyResendAfterMinutes int        `db:"missing_notify_resend_after_minutes" json:"missing_notify_resend_after_minutes"`
	MissingNotifySentAt             *time.Time `db:"missing_notify_sent_at,readonly" json:"missing_notify_sent_at"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DriveUsage is one append-only storage sample of a drive.
type DriveUsage struct {
	ID        int64     `db:"id,primary,auto_increment" json:"id"`
	DriveID   int64     `db:"drive_id" json:"drive_id"`
	Size      int64     `db:"size" json:"size"`
	Used      int64     `db:"used" json:"used"`
	Free      int64     `db:"free" json:"free"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MonitorFeed is one append-only sample of a check run.
//
// Ping is milliseconds; CPULoad is percent; CPUSpeed is MHz; memory is bytes.
type MonitorFeed struct {
	ID          int64     `db:"id,primary,auto_increment" json:"id"`
	MonitorID   int64     `db:"monitor_id" json:"monitor_id"`
	Ping        *int64    `db:"ping" json:"ping"`
	CPULoad     *float64  `db:"cpu_load" json:"cpu_load"`
	CPUSpeed    *float64  `db:"cpu_speed" json:"cpu_speed"`
	MemoryFree  *int64    `db:"memory_free" json:"memory_free"`
	MemoryTotal *int64    `db:"memory_total" json:"memory_total"`
	StatusCode  *int      `db:"status_code" json:"status_code"`
	HasError    bool      `db:"has_error" json:"has_error"`
	Message     string    `db:"message" json:"message"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Database is a logical database of a sqlServer monitor.
type Database struct {
	ID                 int64      `db:"id,primary,auto_increment" json:"id"`
	MonitorID          int64      `db:"monitor_id" json:"monitor_id"`
	Name               string     `db:"name" json:"name"`
	DatabaseID         int        `db:"database_id" json:"database_id"`
	State              string     `db:"state" json:"state"`
	RecoveryModel      string     `db:"recovery_model" json:"recovery_model"`
	CompatibilityLevel int        `db:"compatibility_level" json:"compatibility_level"`
	CreateDate         *time.Time `db:"create_date" json:"create_date"`
	LastFullBackup     *time.Time `db:"last_full_backup" json:"last_full_backup"`
	LastFullBackupSize *int64     `db:"last_full_backup_size" json:"last_full_backup_size"`
	LastLogBackup      *time.Time `db:"last_log_backup" json:"last_log_backup"`
	LastLogBackupSize  *int64     `db:"last_log_backup_size" json:"last_log_backup_size"`
	Size               int64      `db:"size" json:"size"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// DatabaseUsage is one append-only size sample of a database.
type DatabaseUsage struct {
	ID         int64     `db:"id,primary,auto_increment" json:"id"`
	DatabaseID int64     `db:"database_id" json:"database_id"`
	Size       int64     `db:"size" json:"size"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// DatabaseFile is a data or log file backing a Database.
//
// Size and MaxSize are bytes; MaxSize is -1 when growth is unlimited.
// Growth is bytes, or a percentage when IsPercentGrowth is set.
type DatabaseFile struct {
	ID              int64    `db:"id,primary,auto_increment" json:"id"`
	DatabaseID      int64    `db:"database_id" json:"database_id"`
	FileName        string   `db:"file_name" json:"file_name"`
	FileType        string   `db:"file_type" json:"file_type"`
	PhysicalName    string   `db:"physical_name" json:"physical_name"`
	Size            int64    `db:"size" json:"size"`
	MaxSize         int64    `db:"max_size" json:"max_size"`
	Growth          int64    `db:"growth" json:"growth"`
	IsPercentGrowth bool     `db:"is_percent_growth" json:"is_percent_growth"`
	DaysTillFull    *int64   `db:"days_till_full" json:"days_till_full"`
	GrowthRate      *float64 `db:"growth_rate" json:"growth_rate"`

	PercentFreeNotify                   bool       `db:"percent_free_notify" json:"percent_free_notify"`
	PercentFreeNotifyValue              float64    `db:"percent_free_notify_value" json:"percent_free_notify_value"`
	PercentFreeNotifyResendAfterMinutes int        `db:"percent_free_notify_resend_after_minutes" json:"percent_free_notify_resend_after_minutes"`
	PercentFreeNotifySentAt             *time.Time `db:"percent_free_notify_sent_at,readonly" json:"percent_free_notify_sent_at"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DatabaseFileUsage is one append-only size sample of a database file.
type DatabaseFileUsage struct {
	ID             int64     `db:"id,primary,auto_increment" json:"id"`
	DatabaseFileID int64     `db:"database_file_id" json:"database_file_id"`
	Size           int64     `db:"size" json:"size"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Notification is a configured delivery channel.
//
// SMTPPassword and TelegramBotToken hold Secret Codec tokens. SMTPTo is a
// comma separated recipient list.
type Notification struct {
	ID    int64  `db:"id,primary,auto_increment" json:"id"`
	Title string `db:"title" json:"title"`
	Type  string `db:"type" json:"type"`

	SMTPHost            string `db:"smtp_host" json:"smtp_host"`
	SMTPPort            int    `db:"smtp_port" json:"smtp_port"`
	SMTPSecurity        string `db:"smtp_security" json:"smtp_security"`
	SMTPUsername        string `db:"smtp_username" json:"smtp_username"`
	SMTPPassword        string `db:"smtp_password" json:"-"`
	SMTPFrom            string `db:"smtp_from" json:"smtp_from"`
	SMTPTo              string `db:"smtp_to" json:"smtp_to"`
	SMTPIgnoreSSLErrors bool   `db:"smtp_ignore_ssl_errors" json:"smtp_ignore_ssl_errors"`

	TelegramBotToken       string `db:"telegram_bot_token" json:"-"`
	TelegramChatID         string `db:"telegram_chat_id" json:"telegram_chat_id"`
	TelegramThreadID       *int64 `db:"telegram_thread_id" json:"telegram_thread_id"`
	TelegramSilent         bool   `db:"telegram_silent" json:"telegram_silent"`
	TelegramProtectContent bool   `db:"telegram_protect_content" json:"telegram_protect_content"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NotifyLink associates one notify dimension of an entity with a channel.
type NotifyLink struct {
	ID             int64  `db:"id,primary,auto_increment" json:"id"`
	EntityKind     string `db:"entity_kind" json:"entity_kind"`
	EntityID       int64  `db:"entity_id" json:"entity_id"`
	Dimension      string `db:"dimension" json:"dimension"`
	NotificationID int64  `db:"notification_id" json:"notification_id"`
}

// MonitorLog is an entry of a monitor's audit trail.
type MonitorLog struct {
	ID        int64     `db:"id,primary,auto_increment" json:"id"`
	MonitorID int64     `db:"monitor_id" json:"monitor_id"`
	DriveID   *int64    `db:"drive_id" json:"drive_id"`
	Type      string    `db:"type" json:"type"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (Monitor) TableName() string           { return "monitors" }
func (Drive) TableName() string             { return "drives" }
func (DriveUsage) TableName() string        { return "drive_usage" }
func (MonitorFeed) TableName() string       { return "monitor_feeds" }
func (Database) TableName() string          { return "databases" }
func (DatabaseUsage) TableName() string     { return "database_usage" }
func (DatabaseFile) TableName() string      { return "database_files" }
func (DatabaseFileUsage) TableName() string { return "database_file_usage" }
func (Notification) TableName() string      { return "notifications" }
func (NotifyLink) TableName() string        { return "notify_links" }
func (MonitorLog) TableName() string        { return "monitor_logs" }

// Validate validates the Monitor entity.
func (m *Monitor) Validate() error {
	return ValidateMonitor(m)
}

// Validate validates the Notification entity.
func (n *Notification) Validate() error {
	return ValidateNotification(n)
}

// Validate validates the Drive notify settings.
func (d *Drive) Validate() error {
	return ValidateDrive(d)
}

// MonitorType constants define the supported monitor types.
const (
	MonitorTypeWindows   = "windows"
	MonitorTypeUbuntu    = "ubuntu"
	MonitorTypeHTTP      = "http"
	MonitorTypeSQLServer = "sqlServer"
	MonitorTypeTCP       = "tcp"
)

// NotificationType constants define the supported channels.
const (
	NotificationTypeSMTP     = "smtp"
	NotificationTypeTelegram = "telegram"
)

// SMTP security modes.
const (
	SMTPSecurityNone     = "none"
	SMTPSecurityStartTLS = "starttls"
	SMTPSecurityTLS      = "tls"
)

// LogType constants define monitor log severities.
const (
	LogTypeError   = "error"
	LogTypeWarning = "warning"
	LogTypeSuccess = "success"
)

// HTTP auth types and body encodings.
const (
	HTTPAuthNone  = "none"
	HTTPAuthBasic = "basic"
	HTTPAuthNTLM  = "ntlm"

	HTTPBodyJSON = "json"
	HTTPBodyXML  = "xml"
)
