package lock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jinford/hansard-rag/pkg/lock"
)

func TestGenerateLockID(t *testing.T) {
	t.Run("同じ入力は同じIDになる", func(t *testing.T) {
		assert.Equal(t, lock.GenerateLockID("a", "b"), lock.GenerateLockID("a", "b"))
	})

	t.Run("区切り位置が違えば別のIDになる", func(t *testing.T) {
		assert.NotEqual(t, lock.GenerateLockID("ab", "c"), lock.GenerateLockID("a", "bc"))
	})

	t.Run("ドキュメントIDごとに別のIDになる", func(t *testing.T) {
		assert.NotEqual(t,
			lock.DocumentLockID("hansard", "doc-1"),
			lock.DocumentLockID("hansard", "doc-2"))
		assert.NotEqual(t,
			lock.DocumentLockID("hansard", "doc-1"),
			lock.DocumentLockID("other", "doc-1"))
	})
}
