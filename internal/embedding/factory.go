package embedding

import (
	"fmt"

	"github.com/rbayer/redzone/internal/config"
	"github.com/rbayer/redzone/internal/embedding/mock"
	"github.com/rbayer/redzone/internal/embedding/ollama"
	"github.com/rbayer/redzone/internal/embedding/openai"
	"github.com/rbayer/redzone/pkg/models"
)

// NewProvider constructs the appropriate embedding provider based on config.
// Called once at server startup.
func NewProvider(cfg config.EmbeddingConfig) (models.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.Timeout), nil
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.Timeout), nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q: must be one of openai, ollama, mock", cfg.Provider)
	}
}
