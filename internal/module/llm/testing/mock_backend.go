package testing

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/jinford/hansard-rag/internal/module/llm/domain"
)

// MockBatchBackend はテスト用のモックBatchBackendです。
// BatchEmbedFunc が nil の場合は HashVector による決定的なベクトルを返します
type MockBatchBackend struct {
	BatchEmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
	Model          string
	Dim            int
	MaxBatch       int

	mu    sync.Mutex
	calls [][]string
}

func (m *MockBatchBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *MockBatchBackend) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), texts...))
	m.mu.Unlock()

	if m.BatchEmbedFunc != nil {
		return m.BatchEmbedFunc(ctx, texts)
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = HashVector(t, m.Dimension())
	}
	return out, nil
}

func (m *MockBatchBackend) Dimension() int {
	if m.Dim == 0 {
		return 8
	}
	return m.Dim
}

func (m *MockBatchBackend) ModelName() string {
	if m.Model == "" {
		return "mock-embedding"
	}
	return m.Model
}

func (m *MockBatchBackend) MaxBatchSize() int {
	return m.MaxBatch
}

// Calls は BatchEmbed に渡されたテキスト列を呼び出し順に返します
func (m *MockBatchBackend) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}

// EmbeddedTexts は BatchEmbed に渡されたテキストの総数を返します
func (m *MockBatchBackend) EmbeddedTexts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += len(c)
	}
	return n
}

// HashVector はテキストから決定的な正規化前ベクトルを生成します
func HashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		h := fnv.New32a()
		_, _ = h.Write([]byte{byte(i)})
		_, _ = h.Write([]byte(text))
		v[i] = float32(h.Sum32()%1000)/1000 + 0.001
	}
	return v
}

var _ domain.BatchBackend = (*MockBatchBackend)(nil)
