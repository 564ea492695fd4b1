package vector

import (
	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/config"
)

// New builds the Provider named by cfg.Provider: "qdrant" for a remote
// Qdrant collection, or "chromem" for the embedded, zero-config backend.
func New(cfg config.VectorStoreConfig) (Provider, error) {
	switch cfg.Provider {
	case "qdrant":
		return NewQdrantProvider(cfg)
	case "chromem", "":
		return NewChromemProvider(ChromemConfig{Collection: cfg.Collection})
	default:
		return nil, apperr.ConfigMissing("vector", "New", "unknown vector provider: "+cfg.Provider)
	}
}
