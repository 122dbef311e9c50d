package embed

import (
	"fmt"

	"github.com/mcastelli/vidmatch/internal/config"
	"github.com/mcastelli/vidmatch/internal/embed/mock"
	"github.com/mcastelli/vidmatch/internal/embed/twelvelabs"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// NewProvider constructs the configured embedding provider.
// Called once at startup.
func NewProvider(cfg config.EmbedConfig) (models.EmbedProvider, error) {
	switch cfg.Provider {
	case "twelvelabs":
		return twelvelabs.NewProvider(cfg), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q: must be one of twelvelabs, mock", cfg.Provider)
	}
}
