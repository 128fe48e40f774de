package model

import "time"

type Account struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

type Session struct {
	ID        string
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

const (
	DocumentDraft     = "draft"
	DocumentPending   = "pending"
	DocumentCompleted = "completed"
	DocumentRejected  = "rejected"
)

type Document struct {
	ID             string
	OwnerID        string
	Title          string
	FileName       string
	FilePath       string
	FileSize       int64
	MimeType       string
	TotalPages     int
	Status         string
	SignedFilePath *string
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DocumentSummary is a document row joined with its field counts.
type DocumentSummary struct {
	Document
	FieldsTotal  int
	FieldsSigned int
}

const (
	FieldPending  = "pending"
	FieldSigned   = "signed"
	FieldRejected = "rejected"
)

const (
	PayloadText  = "text"
	PayloadDraw  = "draw"
	PayloadImage = "image"
)

const (
	DefaultFieldWidth  = 200
	DefaultFieldHeight = 50
)

type SignatureField struct {
	ID              string
	DocumentID      string
	SignerEmail     string
	SignerName      string
	Page            int
	X               float64
	Y               float64
	Width           float64
	Height          float64
	Status          string
	SignatureData   *string
	SignatureType   string
	RejectionReason *string
	SignedAt        *time.Time
	IPAddress       *string
	Token           string
	TokenExpiresAt  time.Time
	CreatedAt       time.Time
}

// Actionable reports whether the field can still be signed or rejected at now.
func (f *SignatureField) Actionable(now time.Time) bool {
	return f.Status == FieldPending && now.Before(f.TokenExpiresAt)
}

// DisplayName is the signer name, or the email when no name was given.
func (f *SignatureField) DisplayName() string {
	if f.SignerName != "" {
		return f.SignerName
	}
	return f.SignerEmail
}

type AuditEntry struct {
	ID             string
	DocumentID     string
	Action         string
	AccountID      string
	PerformerEmail string
	PerformerName  string
	IPAddress      string
	UserAgent      string
	Metadata       map[string]any
	CreatedAt      time.Time
}

type Job struct {
	ID           string
	JobType      string
	DocumentID   string
	State        string
	Attempts     int
	ErrorMessage string
	RunAfter     time.Time
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

type Webhook struct {
	ID        string
	AccountID string
	URL       string
	Secret    string
	Events    string
	Enabled   bool
	CreatedAt time.Time
}

type WebhookDelivery struct {
	ID                  string
	WebhookID           string
	EventType           string
	EventID             string
	PayloadJSON         string
	AttemptNumber       int
	ResponseStatus      *int
	ResponseBodyPreview string
	ErrorMessage        string
	State               string
	NextRetryAt         *time.Time
	DeliveredAt         *time.Time
	CreatedAt           time.Time
}

// Audit actions. The set is closed; handlers and the signing service only
// ever record one of these.
const (
	AuditDocumentUploaded   = "document_uploaded"
	AuditDocumentDownloaded = "document_downloaded"
	AuditDocumentDeleted    = "document_deleted"
	AuditFieldPlaced        = "field_placed"
	AuditFieldDeleted       = "field_deleted"
	AuditFieldSigned        = "field_signed"
	AuditFieldRejected      = "field_rejected"
	AuditLinkAccessed       = "link_accessed"
	AuditLinkShared         = "link_shared"
	AuditPDFGenerated       = "pdf_generated"
	AuditPDFFailed          = "pdf_failed"
)

// Event types published to SSE subscribers and webhooks.
const (
	EventFieldPlaced       = "field_placed"
	EventFieldSigned       = "field_signed"
	EventFieldRejected     = "field_rejected"
	EventDocumentCompleted = "document_completed"
	EventDocumentRejected  = "document_rejected"
)

// WebhookEvents lists the event types a webhook may subscribe to.
var WebhookEvents = []string{
	EventFieldSigned,
	EventFieldRejected,
	EventDocumentCompleted,
	EventDocumentRejected,
}

const JobComposite = "composite"
