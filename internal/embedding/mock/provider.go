package mock

import (
	"context"
	"errors"
	"hash/fnv"
	"sync/atomic"

	"github.com/rbayer/redzone/pkg/models"
)

// MockProvider satisfies models.EmbeddingProvider for testing.
type MockProvider struct {
	Name_     string
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

	calls atomic.Int64
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	return Deterministic(texts), nil
}

// Calls returns how many times Embed has been invoked.
func (m *MockProvider) Calls() int64 { return m.calls.Load() }

// NewProvider returns a MockProvider producing deterministic 8-dimensional
// vectors derived from the text, so equal texts embed identically.
func NewProvider() *MockProvider {
	return &MockProvider{Name_: "mock"}
}

// NewFailingProvider returns a MockProvider that always returns the given
// error, or a generic one if err is nil.
func NewFailingProvider(err error) *MockProvider {
	if err == nil {
		err = errors.New("mock embedding failure")
	}
	return &MockProvider{
		Name_: "mock-failing",
		EmbedFunc: func(_ context.Context, _ []string) ([][]float32, error) {
			return nil, err
		},
	}
}

// Deterministic maps each text to a stable pseudo-random unit-scale vector.
func Deterministic(texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New64a()
		h.Write([]byte(text))
		seed := h.Sum64()
		vec := make([]float32, 8)
		for d := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[d] = float32(int64(seed>>33)) / float32(1<<30)
		}
		vectors[i] = vec
	}
	return vectors
}

// Compile-time check that MockProvider implements EmbeddingProvider.
var _ models.EmbeddingProvider = (*MockProvider)(nil)
