package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Geminiの各呼び出しに使うタイムアウト。想定ペイロードの大きさに比例させる
const (
	geminiAnalyzeTimeout  = 30 * time.Second
	geminiEmbedTimeout    = 30 * time.Second
	geminiPlanTimeout     = 60 * time.Second
	geminiGenerateTimeout = 90 * time.Second // 出力が最も大きいので最長
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// FeedbackResult はコメント1件の分類結果
type FeedbackResult struct {
	SentimentScore    float64  `json:"sentiment_score"`
	Category          string   `json:"category"`
	Keywords          []string `json:"keywords"`
	PriorityScore     float64  `json:"priority_score"`
	ActionableSummary string   `json:"actionable_summary"`
}

// CodePatch はファイル1つ分の生成結果
type CodePatch struct {
	NewCode         string  `json:"new_code"`
	Explanation     string  `json:"explanation"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// GeminiService はGemini APIの呼び出しをまとめたサービス
// キーはKeyPoolから取得し、429を受けたらそのキーに印を付けて失敗を返す
// （同一呼び出し内でのキー切り替えリトライはしない。次の呼び出しが自然に別キーを引く）
type GeminiService struct {
	Pool    *KeyPool
	BaseURL string
	Model   string
}

func NewGeminiService(pool *KeyPool) *GeminiService {
	baseURL := os.Getenv("GEMINI_BASE_URL")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-pro"
	}
	return &GeminiService{Pool: pool, BaseURL: baseURL, Model: model}
}

// AnalyzeFeedback はコメント本文を分類する。失敗時はnilを返す
// 呼び出し側はnilを「このコメントをスキップ」として扱い、バッチ全体は失敗させない
func (g *GeminiService) AnalyzeFeedback(text string) *FeedbackResult {
	if text == "" {
		return nil
	}

	prompt := fmt.Sprintf(`Analyze the following user feedback comment:
"%s"

Return ONLY a JSON object with:
- "sentiment_score": float between -1.0 (negative) and 1.0 (positive)
- "category": "feature_request", "bug", "question", or "feedback"
- "keywords": array of strings (max 5)
- "priority_score": float between 0.0 (low) and 1.0 (high) based on urgency and impact
- "actionable_summary": a 1-sentence summary of what should be done`, text)

	raw, err := g.generateContent(prompt, geminiAnalyzeTimeout)
	if err != nil {
		log.Printf("gemini analysis failed: %v", err)
		return nil
	}

	var result FeedbackResult
	if err := ExtractJSONObject(raw, &result); err != nil {
		log.Printf("gemini analysis returned invalid json: %v", err)
		return nil
	}
	return &result
}

// GenerateEmbedding はテキストの埋め込みベクトルを生成する。失敗時はnil
func (g *GeminiService) GenerateEmbedding(text string) []float64 {
	key := g.Pool.GetNextKey()
	if key == "" {
		log.Println("gemini embedding skipped: no api key")
		return nil
	}

	payload := map[string]interface{}{
		"model":   "models/embedding-001",
		"content": map[string]interface{}{"parts": []map[string]string{{"text": text}}},
	}

	body, err := g.post(fmt.Sprintf("%s/models/embedding-001:embedContent?key=%s", g.BaseURL, key), key, payload, geminiEmbedTimeout)
	if err != nil {
		log.Printf("gemini embedding failed: %v", err)
		return nil
	}

	var resp struct {
		Embedding struct {
			Values []float64 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Printf("gemini embedding decode error: %v", err)
		return nil
	}
	if len(resp.Embedding.Values) == 0 {
		log.Println("gemini embedding response is empty")
		return nil
	}
	return resp.Embedding.Values
}

// ExtractTopics はコメント群から共通テーマを抽出する
// 入力が空ならAPIを呼ばずに空リストを返す
func (g *GeminiService) ExtractTopics(comments []string) []string {
	if len(comments) == 0 {
		return []string{}
	}

	// コメントが多すぎるとプロンプトが膨らむので50件で打ち切る
	if len(comments) > 50 {
		comments = comments[:50]
	}

	prompt := fmt.Sprintf(`Identify up to 5 common themes in the following community feedback.
Return ONLY a JSON array of short theme strings.

Comments:
- %s`, strings.Join(comments, "\n- "))

	raw, err := g.generateContent(prompt, geminiAnalyzeTimeout)
	if err != nil {
		log.Printf("gemini topic extraction failed: %v", err)
		return []string{}
	}

	var topics []string
	if err := ExtractJSONArray(raw, &topics); err != nil {
		log.Printf("gemini topics response invalid: %v", err)
		return []string{}
	}
	return topics
}

// PlanImplementation はフィードバックとリポジトリのファイル一覧から
// 変更すべきファイルのリストを決める
// 応答がJSON配列としてパースできない場合は ["README.md"] にフォールバックする
// READMEは常に安全な変更先なので「必ず何かしら前進する」ための意図的な仕様
func (g *GeminiService) PlanImplementation(feedback string, fileTree []string) []string {
	tree := fileTree
	if len(tree) > 300 {
		tree = tree[:300]
	}

	prompt := fmt.Sprintf(`You are an autonomous coding agent planning a change.

User feedback:
"%s"

Repository files:
%s

Decide which files need to be modified to address the feedback.
Return ONLY a JSON array of file paths, most important first (max 3).`,
		feedback, strings.Join(tree, "\n"))

	raw, err := g.generateContent(prompt, geminiPlanTimeout)
	if err != nil {
		log.Printf("gemini planning failed: %v. falling back to README.md", err)
		return []string{"README.md"}
	}

	var files []string
	if err := ExtractJSONArray(raw, &files); err != nil || len(files) == 0 {
		log.Printf("gemini plan response unparsable. falling back to README.md")
		return []string{"README.md"}
	}
	return files
}

// GenerateCode はファイル1つ分のパッチを生成する。失敗時はnil
func (g *GeminiService) GenerateCode(feedback, filePath, currentCode, changeContext string) *CodePatch {
	prompt := fmt.Sprintf(`You are an autonomous coding agent.

User feedback to address:
"%s"

Target file: %s
%s
Current content of the file:
---
%s
---

Rewrite the file to address the feedback.
Return ONLY a JSON object with:
- "new_code": the complete new content of the file
- "explanation": one sentence describing the change
- "confidence_score": float between 0.0 and 1.0`,
		feedback, filePath, contextLine(changeContext), currentCode)

	raw, err := g.generateContent(prompt, geminiGenerateTimeout)
	if err != nil {
		log.Printf("gemini code generation failed for %s: %v", filePath, err)
		return nil
	}

	var patch CodePatch
	if err := ExtractJSONObject(raw, &patch); err != nil {
		log.Printf("gemini code generation returned invalid json for %s: %v", filePath, err)
		return nil
	}
	return &patch
}

func contextLine(extra string) string {
	if extra == "" {
		return ""
	}
	return "Context: " + extra + "\n"
}

// generateContent はgenerateContentエンドポイントを叩いて応答テキストを返す
func (g *GeminiService) generateContent(prompt string, timeout time.Duration) (string, error) {
	key := g.Pool.GetNextKey()
	if key == "" {
		return "", fmt.Errorf("no gemini api key configured")
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}

	body, err := g.post(fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.BaseURL, g.Model, key), key, payload, timeout)
	if err != nil {
		return "", err
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("gemini response decode error: %v", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// post はタイムアウト付きでPOSTし、429なら使ったキーをプールに報告する
func (g *GeminiService) post(url, key string, payload interface{}, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		g.Pool.MarkRateLimited(key)
		return nil, fmt.Errorf("gemini rate limited (status 429): %s", string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini api error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
