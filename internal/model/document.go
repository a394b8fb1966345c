package model

import "time"

// DocumentStatus is the lifecycle state of a document.
// Values are part of the wire contract: additive changes only.
type DocumentStatus string

const (
	StatusPending     DocumentStatus = "pending"
	StatusProcessing  DocumentStatus = "processing"
	StatusActive      DocumentStatus = "active"
	StatusQuarantined DocumentStatus = "quarantined"
	StatusArchived    DocumentStatus = "archived"
	StatusDeleted     DocumentStatus = "deleted"
	StatusFailed      DocumentStatus = "failed"
)

// Terminal reports whether no further lifecycle transitions are allowed.
func (s DocumentStatus) Terminal() bool {
	return s == StatusDeleted || s == StatusFailed
}

// BackendKind identifies a storage backend implementation.
type BackendKind string

const (
	BackendS3    BackendKind = "s3"
	BackendMinIO BackendKind = "minio"
	BackendGCS   BackendKind = "gcs"
	BackendAzure BackendKind = "azure"
)

// ScanStatus is the lifecycle state of a single scan attempt.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanScanning  ScanStatus = "scanning"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// ScanVerdict is the outcome of a completed scan.
type ScanVerdict string

const (
	VerdictClean      ScanVerdict = "clean"
	VerdictInfected   ScanVerdict = "infected"
	VerdictSuspicious ScanVerdict = "suspicious"
	VerdictError      ScanVerdict = "error"
)

// ThreatSeverity classifies a detected threat.
type ThreatSeverity string

const (
	SeverityLow      ThreatSeverity = "low"
	SeverityMedium   ThreatSeverity = "medium"
	SeverityHigh     ThreatSeverity = "high"
	SeverityCritical ThreatSeverity = "critical"
)

// StorageLocation is a value type pointing at one object in a storage backend.
// It is embedded in version records and never shared across documents.
type StorageLocation struct {
	Backend  BackendKind `json:"backend"`
	Bucket   string      `json:"bucket"`
	Key      string      `json:"key"`
	Region   string      `json:"region"`
	Endpoint string      `json:"endpoint_url,omitempty"`
}

// Document is the tenant-scoped metadata record for one stored document.
// CurrentVersion always equals the version of the latest entry in the
// version ledger, and Checksum always matches the bytes at that version.
type Document struct {
	ID             string            `json:"document_id"`
	TenantID       string            `json:"tenant_id"`
	OwnerID        string            `json:"owner_id"`
	Filename       string            `json:"filename"`
	ContentType    string            `json:"content_type"`
	SizeBytes      int64             `json:"size_bytes"`
	Title          string            `json:"title,omitempty"`
	Description    string            `json:"description,omitempty"`
	Tags           []string          `json:"tags"`
	Attributes     map[string]string `json:"attributes"`
	Status         DocumentStatus    `json:"status"`
	CurrentVersion int               `json:"version"`
	Checksum       string            `json:"checksum"`
	ScanFailed     bool              `json:"scan_failed,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// VersionRecord is one immutable entry in a document's version ledger.
// Versions are sequential starting at 1 and gapless per document.
type VersionRecord struct {
	DocumentID  string          `json:"document_id"`
	Version     int             `json:"version"`
	Location    StorageLocation `json:"location"`
	SizeBytes   int64           `json:"size_bytes"`
	Checksum    string          `json:"checksum"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	Description string          `json:"description,omitempty"`
}

// ThreatDetail describes one threat found by the scan engine.
type ThreatDetail struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Severity    ThreatSeverity `json:"severity"`
	Description string         `json:"description,omitempty"`
}

// ScanResult is one scan attempt for a document version. It is finalized
// exactly once; only the latest completed result governs document status.
type ScanResult struct {
	ScanID         string         `json:"scan_id"`
	DocumentID     string         `json:"document_id"`
	Version        int            `json:"version"`
	Status         ScanStatus     `json:"status"`
	Verdict        ScanVerdict    `json:"result"`
	Threats        []ThreatDetail `json:"threats"`
	ScannerVersion string         `json:"scanner_version,omitempty"`
	ScannedAt      time.Time      `json:"scanned_at"`
	DurationMS     int64          `json:"duration_ms"`
}
