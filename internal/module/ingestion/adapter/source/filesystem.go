package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/jinford/hansard-rag/internal/module/ingestion/domain"
)

// DefaultPattern はバルク取り込みでパターン未指定の場合に使用するパターン
const DefaultPattern = "*.md"

// MaxFileSize は1ファイルの最大サイズ（バイト）
const MaxFileSize = 16 << 20

// ErrNotDirectory は Discover の対象がディレクトリでない場合のエラー
var ErrNotDirectory = errors.New("not a directory")

// FileSystem はローカルファイルシステムから発言記録を読み出す DocumentSource です
type FileSystem struct{}

// NewFileSystem は新しい FileSystem を作成します
func NewFileSystem() *FileSystem {
	return &FileSystem{}
}

var _ domain.DocumentSource = (*FileSystem)(nil)

// Read は ref のファイル内容を返します
func (s *FileSystem) Read(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", ref, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", ref)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s exceeds maximum size (%d bytes)", ref, MaxFileSize)
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}
	return data, nil
}

// Discover は dir 配下を再帰的に走査し、pattern に一致するファイルのパスをソートして返します。
// pattern は dir からの相対パス（区切りは "/"）に対して評価し、"**" は階層をまたいで一致します。
// "/" を含まない pattern はファイル名に対しても評価します。隠しディレクトリは走査しません
func (s *FileSystem) Discover(ctx context.Context, dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	baseOnly := !strings.Contains(pattern, "/")

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	var refs []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if g.Match(rel) || (baseOnly && g.Match(d.Name())) {
			refs = append(refs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	sort.Strings(refs)
	return refs, nil
}
