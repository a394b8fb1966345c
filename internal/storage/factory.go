package storage

import (
	"fmt"

	"docvault/internal/config"
	"docvault/internal/model"
)

// New selects the backend implementation named by configuration. This is
// the single dispatch point for storage providers; everything downstream
// sees only the Backend interface.
func New(cfg config.StorageConfig) (Backend, error) {
	switch model.BackendKind(cfg.Kind) {
	case model.BackendMinIO:
		return newMinIO(model.BackendMinIO, cfg)
	case model.BackendS3:
		// AWS S3 is driven through the same S3-compatible client.
		return newMinIO(model.BackendS3, cfg)
	case model.BackendGCS, model.BackendAzure:
		return nil, fmt.Errorf("storage backend %q is declared but has no adapter yet", cfg.Kind)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Kind)
	}
}
