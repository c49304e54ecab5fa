package services

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func setTestKeys(t *testing.T, keys string) {
	originalList := os.Getenv("GEMINI_API_KEYS")
	originalSingle := os.Getenv("GEMINI_API_KEY")
	t.Cleanup(func() {
		os.Setenv("GEMINI_API_KEYS", originalList)
		os.Setenv("GEMINI_API_KEY", originalSingle)
	})
	os.Setenv("GEMINI_API_KEYS", keys)
	os.Unsetenv("GEMINI_API_KEY")
}

func TestKeyPoolRoundRobin(t *testing.T) {
	setTestKeys(t, "key-a,key-b,key-c")
	pool := NewKeyPool()

	// N個のキーはN回の呼び出しでラウンドロビン順に一巡する
	assert.Equal(t, "key-a", pool.GetNextKey())
	assert.Equal(t, "key-b", pool.GetNextKey())
	assert.Equal(t, "key-c", pool.GetNextKey())
	assert.Equal(t, "key-a", pool.GetNextKey())
}

func TestKeyPoolSkipsRateLimited(t *testing.T) {
	setTestKeys(t, "key-a,key-b,key-c")
	pool := NewKeyPool()

	pool.MarkRateLimited("key-a")

	// key-aはスキップされる
	assert.Equal(t, "key-b", pool.GetNextKey())
	assert.Equal(t, "key-c", pool.GetNextKey())
	assert.Equal(t, "key-b", pool.GetNextKey())
}

func TestKeyPoolAllRateLimited(t *testing.T) {
	setTestKeys(t, "key-a,key-b")
	pool := NewKeyPool()

	pool.MarkRateLimited("key-a")
	pool.MarkRateLimited("key-b")

	// 全キー制限中でも空文字列を返さず、カーソル位置のキーを強制再利用する
	key := pool.GetNextKey()
	assert.NotEmpty(t, key)

	// 制限フラグが外れているので、次回以降は通常のローテーションに戻る
	next := pool.GetNextKey()
	assert.Equal(t, key, next)
}

func TestKeyPoolNoKeysConfigured(t *testing.T) {
	setTestKeys(t, "")
	pool := NewKeyPool()

	// キーが1つもない場合は空文字列（設定エラーとして扱う）
	assert.Equal(t, "", pool.GetNextKey())
}

func TestKeyPoolSingleKeyFallback(t *testing.T) {
	originalList := os.Getenv("GEMINI_API_KEYS")
	originalSingle := os.Getenv("GEMINI_API_KEY")
	t.Cleanup(func() {
		os.Setenv("GEMINI_API_KEYS", originalList)
		os.Setenv("GEMINI_API_KEY", originalSingle)
	})
	os.Unsetenv("GEMINI_API_KEYS")
	os.Setenv("GEMINI_API_KEY", "single-key")

	pool := NewKeyPool()
	assert.Equal(t, "single-key", pool.GetNextKey())
	assert.Equal(t, "single-key", pool.GetNextKey())
}

func TestKeyPoolLateConfiguration(t *testing.T) {
	setTestKeys(t, "")
	pool := NewKeyPool()
	assert.Equal(t, "", pool.GetNextKey())

	// 後から設定が入った場合は次の呼び出しで再読み込みされる
	os.Setenv("GEMINI_API_KEYS", "late-key")
	assert.Equal(t, "late-key", pool.GetNextKey())
}
