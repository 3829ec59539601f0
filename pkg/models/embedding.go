package models

import "context"

// EmbeddingProvider is the interface every embedding backend must implement.
// Never call a specific provider directly — always inject this interface.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, positionally ordered. A nil
	// element means the provider produced no vector for that text; callers
	// must skip it rather than treat it as an error.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g., "openai", "ollama").
	Name() string
}
