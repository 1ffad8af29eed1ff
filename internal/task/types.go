package task

import "time"

type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	// StatusExpired is never stored; it is reported for stale terminal tasks.
	StatusExpired Status = "expired"
)

// ErrorKind classifies a failed run. Values match the records written by
// earlier deployments.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindCredential       ErrorKind = "username_or_password_error"
	KindCertificateState ErrorKind = "invalid_certificate_status"
	KindPrinter          ErrorKind = "printer_error"
	KindTimeout          ErrorKind = "time_error"
	KindCaptcha          ErrorKind = "captcha_error"
)

type Category string

const (
	CategoryCorporate  Category = "corporate"
	CategoryIndividual Category = "individual"
)

// Valid reports whether c is one of the known user categories.
func (c Category) Valid() bool {
	return c == CategoryCorporate || c == CategoryIndividual
}

// Label is the category label stored with outcome records.
func (c Category) Label() string {
	if c == CategoryCorporate {
		return "法人"
	}
	return "个人"
}

type Task struct {
	Status         Status     `json:"status"`
	Success        bool       `json:"success"`
	Message        string     `json:"message"`
	LastCompletion *time.Time `json:"last_completion,omitempty"`
	ErrorKind      ErrorKind  `json:"error_type"`
	ErrorMessage   string     `json:"error_message"`
	Subject        string     `json:"username"`
	Category       Category   `json:"user_type"`
	DocumentType   string     `json:"document_type"`
	SystemID       string     `json:"system_num"`
	DisplayName    string     `json:"cert_name"`
	TraceID        string     `json:"trace_id"`
}

// StatusInfo is the externally reported view of the task.
type StatusInfo struct {
	Status    Status    `json:"status"`
	Success   bool      `json:"success"`
	Message   string    `json:"msg"`
	ErrorKind ErrorKind `json:"error_type,omitempty"`
}

type Options struct {
	DataDir        string
	SessionTimeout time.Duration
}

const (
	defaultSessionTimeout = 1800 * time.Second
	processingMessage     = "processing"
)
