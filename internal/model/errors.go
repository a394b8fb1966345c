package model

import "errors"

// Error taxonomy surfaced by the coordinator. Handlers map these onto HTTP
// status codes; internal retries never leak transient errors past this set.
var (
	// ErrValidation marks malformed caller input. Not retryable.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers both absent documents and tenant mismatches, which
	// are deliberately indistinguishable to avoid leaking existence.
	ErrNotFound = errors.New("document not found")

	// ErrFileTooLarge marks content exceeding the configured size ceiling.
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")

	// ErrIntegrityMismatch marks a caller-supplied digest that does not match
	// the received bytes. The written object is removed before this returns.
	ErrIntegrityMismatch = errors.New("checksum does not match content")

	// ErrBackendUnavailable marks a transient storage failure. Retryable.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrQuotaExceeded marks a storage quota rejection. Fatal to the upload.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrObjectNotFound signals metadata/storage divergence: a location that
	// metadata claims exists is missing from the backend.
	ErrObjectNotFound = errors.New("stored object not found")

	// ErrQuarantined blocks content reads for documents held by a positive
	// or suspicious scan result. Not a generic failure.
	ErrQuarantined = errors.New("document is quarantined")

	// ErrScanEngine marks a scan subsystem failure, never treated as clean.
	ErrScanEngine = errors.New("scan engine failure")

	// ErrScanNotFound marks an unknown scan id on await.
	ErrScanNotFound = errors.New("scan not found")
)
