package model

import "time"

// Lifecycle event types published to the bus. The routing scheme is
// document.<event>; consumers de-duplicate on EventID.
const (
	EventDocumentUploaded = "document.uploaded"
	EventDocumentScanned  = "document.scanned"
	EventDocumentDeleted  = "document.deleted"
)

// OutboxEvent is a lifecycle event staged for publication. Rows are written
// in the same transaction as the state transition that produced them and
// removed only after confirmed publish, giving at-least-once delivery.
type OutboxEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	DocumentID    string    `json:"document_id"`
	TenantID      string    `json:"tenant_id"`
	Version       int       `json:"version"`
	Payload       []byte    `json:"-"`
	CreatedAt     time.Time `json:"timestamp"`
	Attempts      int       `json:"-"`
	NextAttemptAt time.Time `json:"-"`
}

// UploadedPayload is the data section of a document.uploaded event.
type UploadedPayload struct {
	DocumentID  string `json:"document_id"`
	TenantID    string `json:"tenant_id"`
	OwnerID     string `json:"owner_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Version     int    `json:"version"`
	Checksum    string `json:"checksum"`
}

// ScannedPayload is the data section of a document.scanned event.
type ScannedPayload struct {
	DocumentID string         `json:"document_id"`
	TenantID   string         `json:"tenant_id"`
	ScanID     string         `json:"scan_id"`
	Version    int            `json:"version"`
	Result     ScanVerdict    `json:"result"`
	Threats    []ThreatDetail `json:"threats"`
}

// DeletedPayload is the data section of a document.deleted event.
type DeletedPayload struct {
	DocumentID string `json:"document_id"`
	TenantID   string `json:"tenant_id"`
	OwnerID    string `json:"owner_id"`
	Filename   string `json:"filename"`
	Version    int    `json:"version"`
}
