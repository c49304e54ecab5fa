package services

import (
	"log"
	"os"
	"strings"
	"sync"
)

// KeyPool は複数のGemini APIキーをラウンドロビンで使い回すプール
// グローバル変数にはせず、起動時に1つ作ってGeminiServiceに注入する
// 状態はプロセス内のみで、再起動でリセットされる
type KeyPool struct {
	mu          sync.Mutex
	keys        []string
	rateLimited map[string]bool
	cursor      int
}

// NewKeyPool は環境変数からキーを読み込んでプールを作る
// GEMINI_API_KEYS（カンマ区切り）が空ならGEMINI_API_KEYにフォールバックする
func NewKeyPool() *KeyPool {
	p := &KeyPool{rateLimited: make(map[string]bool)}
	p.load()
	return p
}

func (p *KeyPool) load() {
	keys := []string{}
	for _, k := range strings.Split(os.Getenv("GEMINI_API_KEYS"), ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		if single := os.Getenv("GEMINI_API_KEY"); single != "" {
			keys = append(keys, single)
		}
	}
	p.keys = keys
}

// GetNextKey はレート制限されていないキーをカーソル位置から順に探して返す
// 全キーが制限中の場合はカーソル位置のキーの制限フラグを外してそのまま返す
// （デッドロック防止。まだ制限中のキーを再試行するコストは許容する）
// キーが1つも設定されていなければ空文字列を返す。呼び出し側はこれを
// 設定エラーとして扱い、リトライしてはいけない
func (p *KeyPool) GetNextKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 設定が遅れて入るケースに備えて、空のままなら再読み込みする
	if len(p.keys) == 0 {
		p.load()
	}
	if len(p.keys) == 0 {
		log.Println("no gemini api keys configured")
		return ""
	}

	n := len(p.keys)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		key := p.keys[idx]
		if !p.rateLimited[key] {
			p.cursor = (idx + 1) % n
			return key
		}
	}

	// 全キーがレート制限中: カーソル位置のキーを強制的に再利用する
	key := p.keys[p.cursor%n]
	delete(p.rateLimited, key)
	log.Printf("all gemini keys rate limited. force reusing key index %d", p.cursor%n)
	p.cursor = (p.cursor + 1) % n
	return key
}

// MarkRateLimited は429を返したキーに印を付けて以降のGetNextKeyでスキップさせる
// 時間経過での自動解除はなく、全キー制限時の強制再利用でのみ解除される
func (p *KeyPool) MarkRateLimited(key string) {
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rateLimited[key] = true
	log.Printf("gemini key marked as rate limited (suffix: %s)", keySuffix(key))
}

func keySuffix(key string) string {
	if len(key) <= 4 {
		return key
	}
	return "..." + key[len(key)-4:]
}
