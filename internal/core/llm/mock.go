package llm

import (
	"context"
	"encoding/binary"
	"hash/fnv"
)

const (
	providerMock      = "mock"
	mockEmbeddingDims = 1536
)

// mockProvider answers deterministically so the pipeline runs end to end
// without credentials. Completions echo a fixed enrichment payload;
// embeddings are a stable hash expansion of the input.
type mockProvider struct{}

func newMockProvider() *mockProvider { return &mockProvider{} }

func (m *mockProvider) Name() string  { return providerMock }
func (m *mockProvider) Model() string { return "mock-1" }
func (m *mockProvider) Priority() int { return PriorityFree }

func (m *mockProvider) Complete(_ context.Context, req Request) (string, error) {
	if len(req.User) == 0 {
		return "", ErrEmptyResponse
	}

	return `{"category":"crime","subcategory":"general","threat_label":"medium","score":50,"confidence":0.5,"reasoning":"mock assessment"}`, nil
}

func (m *mockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))

	for i, text := range texts {
		vec := make([]float32, mockEmbeddingDims)

		h := fnv.New64a()
		_, _ = h.Write([]byte(text))
		seed := h.Sum64()

		var buf [8]byte

		for j := range vec {
			binary.LittleEndian.PutUint64(buf[:], seed+uint64(j))

			h.Reset()
			_, _ = h.Write(buf[:])
			vec[j] = float32(h.Sum64()%2000)/1000 - 1
		}

		vecs[i] = vec
	}

	return vecs, nil
}

var _ Provider = (*mockProvider)(nil)
