// Package storage holds the durable object storage providers that migrated
// documents are uploaded to.
package storage

import (
	"fmt"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
)

// Provider is the durable storage surface used by the migrator and the printers.
type Provider = core.DurableStorage

func New(cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "filesystem":
		return NewFilesystemProvider(cfg.FilesystemRoot, cfg.PublicBaseURL)
	case "s3":
		return NewS3Provider(cfg)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}
