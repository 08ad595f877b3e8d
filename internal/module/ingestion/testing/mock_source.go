package testing

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/jinford/hansard-rag/internal/module/ingestion/domain"
	"github.com/jinford/hansard-rag/internal/shared/document"
)

// MockDocumentSource はテスト用のモックDocumentSourceです
type MockDocumentSource struct {
	ReadFunc     func(ctx context.Context, ref string) ([]byte, error)
	DiscoverFunc func(ctx context.Context, dir, pattern string) ([]string, error)
}

func (m *MockDocumentSource) Read(ctx context.Context, ref string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, ref)
	}
	return nil, nil
}

func (m *MockDocumentSource) Discover(ctx context.Context, dir, pattern string) ([]string, error) {
	if m.DiscoverFunc != nil {
		return m.DiscoverFunc(ctx, dir, pattern)
	}
	return nil, nil
}

// MapSource はメモリ上のファイルを返す DocumentSource です。
// Discover は dir 配下で path.Match(pattern, ファイル名) に一致する参照を返します
type MapSource struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMapSource は ref → 内容 のマップから MapSource を作成します
func NewMapSource(files map[string]string) *MapSource {
	s := &MapSource{files: make(map[string][]byte, len(files))}
	for ref, content := range files {
		s.files[ref] = []byte(content)
	}
	return s
}

// Put はファイルを追加・置き換えます
func (s *MapSource) Put(ref, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[ref] = []byte(content)
}

func (s *MapSource) Read(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[ref]
	if !ok {
		return nil, fmt.Errorf("%s: file not found", ref)
	}
	return data, nil
}

func (s *MapSource) Discover(ctx context.Context, dir, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := strings.TrimSuffix(dir, "/") + "/"
	var refs []string
	for ref := range s.files {
		if !strings.HasPrefix(ref, prefix) {
			continue
		}
		ok, err := path.Match(pattern, path.Base(ref))
		if err != nil {
			return nil, err
		}
		if ok {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

var (
	_ domain.DocumentSource = (*MockDocumentSource)(nil)
	_ domain.DocumentSource = (*MapSource)(nil)
)

// MockChunkEmbedder はテスト用のモックChunkEmbedderです
type MockChunkEmbedder struct {
	EmbedChunksFunc func(ctx context.Context, chunks []document.Chunk) ([]document.EmbeddingVector, error)
	Model           string
	Dim             int
}

func (m *MockChunkEmbedder) EmbedChunks(ctx context.Context, chunks []document.Chunk) ([]document.EmbeddingVector, error) {
	if m.EmbedChunksFunc != nil {
		return m.EmbedChunksFunc(ctx, chunks)
	}
	return nil, nil
}

func (m *MockChunkEmbedder) ModelName() string {
	return m.Model
}

func (m *MockChunkEmbedder) Dimension() int {
	return m.Dim
}

var _ domain.ChunkEmbedder = (*MockChunkEmbedder)(nil)
