package services

import (
	"testing"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
)

func newTestGemini(t *testing.T, keys string) *GeminiService {
	setTestKeys(t, keys)
	return &GeminiService{
		Pool:    NewKeyPool(),
		BaseURL: defaultGeminiBaseURL,
		Model:   "gemini-pro",
	}
}

func geminiTextResponse(text string) map[string]interface{} {
	return map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content": map[string]interface{}{
					"parts": []map[string]string{{"text": text}},
				},
			},
		},
	}
}

func TestAnalyzeFeedback(t *testing.T) {
	gemini := newTestGemini(t, "test-key")
	defer gock.Off()

	// モデルがJSONの前に前置きを付けても抽出できる
	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/gemini-pro:generateContent").
		Reply(200).
		JSON(geminiTextResponse(`Here is the analysis:
{"sentiment_score": -0.6, "category": "bug", "keywords": ["crash", "save"], "priority_score": 0.8, "actionable_summary": "Fix the crash on save."}`))

	result := gemini.AnalyzeFeedback("This crashes on save")

	assert.NotNil(t, result)
	assert.Equal(t, "bug", result.Category)
	assert.Equal(t, -0.6, result.SentimentScore)
	assert.Equal(t, []string{"crash", "save"}, result.Keywords)
	assert.True(t, gock.IsDone())
}

func TestAnalyzeFeedbackEmptyText(t *testing.T) {
	gemini := newTestGemini(t, "test-key")

	// 空テキストはAPIを呼ばずにnil
	assert.Nil(t, gemini.AnalyzeFeedback(""))
}

func TestAnalyzeFeedbackInvalidJSON(t *testing.T) {
	gemini := newTestGemini(t, "test-key")
	defer gock.Off()

	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/gemini-pro:generateContent").
		Reply(200).
		JSON(geminiTextResponse("I cannot analyze this comment."))

	// 非JSON応答はnil（呼び出し側はスキップとして扱う）
	assert.Nil(t, gemini.AnalyzeFeedback("some comment"))
	assert.True(t, gock.IsDone())
}

func TestAnalyzeFeedbackRateLimitMarksKey(t *testing.T) {
	gemini := newTestGemini(t, "key-a,key-b")
	defer gock.Off()

	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/gemini-pro:generateContent").
		Reply(429).
		JSON(map[string]string{"error": "quota exceeded"})

	// 429を受けた呼び出しはnilを返し、使ったキーに印が付く
	assert.Nil(t, gemini.AnalyzeFeedback("some comment"))
	assert.True(t, gock.IsDone())

	// key-aが制限中なので次の取得はkey-bになる
	assert.Equal(t, "key-b", gemini.Pool.GetNextKey())
}

func TestAnalyzeFeedbackNoKeys(t *testing.T) {
	gemini := newTestGemini(t, "")

	// キー未設定は即nil（リトライしない設定エラー）
	assert.Nil(t, gemini.AnalyzeFeedback("some comment"))
}

func TestGenerateEmbedding(t *testing.T) {
	gemini := newTestGemini(t, "test-key")
	defer gock.Off()

	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/embedding-001:embedContent").
		Reply(200).
		JSON(map[string]interface{}{
			"embedding": map[string]interface{}{"values": []float64{0.1, 0.2, 0.3}},
		})

	embedding := gemini.GenerateEmbedding("some text")

	assert.Equal(t, []float64{0.1, 0.2, 0.3}, embedding)
	assert.True(t, gock.IsDone())
}

func TestExtractTopicsEmptyInput(t *testing.T) {
	gemini := newTestGemini(t, "test-key")

	// 入力が空ならAPIを呼ばずに空リスト
	topics := gemini.ExtractTopics(nil)
	assert.Empty(t, topics)
}

func TestExtractTopics(t *testing.T) {
	gemini := newTestGemini(t, "test-key")
	defer gock.Off()

	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/gemini-pro:generateContent").
		Reply(200).
		JSON(geminiTextResponse(`["performance", "dark mode"]`))

	topics := gemini.ExtractTopics([]string{"app is slow", "please add dark mode"})

	assert.Equal(t, []string{"performance", "dark mode"}, topics)
	assert.True(t, gock.IsDone())
}

func TestPlanImplementation(t *testing.T) {
	gemini := newTestGemini(t, "test-key")
	defer gock.Off()

	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/gemini-pro:generateContent").
		Reply(200).
		JSON(geminiTextResponse(`["src/save.ts", "src/store.ts"]`))

	files := gemini.PlanImplementation("fix save crash", []string{"src/save.ts", "src/store.ts", "README.md"})

	assert.Equal(t, []string{"src/save.ts", "src/store.ts"}, files)
	assert.True(t, gock.IsDone())
}

func TestPlanImplementationFallbackToReadme(t *testing.T) {
	gemini := newTestGemini(t, "test-key")
	defer gock.Off()

	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/gemini-pro:generateContent").
		Reply(200).
		JSON(geminiTextResponse("I would modify the save module."))

	// 配列としてパースできない応答はREADME.mdへのフォールバック
	files := gemini.PlanImplementation("fix save crash", []string{"src/save.ts"})

	assert.Equal(t, []string{"README.md"}, files)
	assert.True(t, gock.IsDone())
}

func TestGenerateCode(t *testing.T) {
	gemini := newTestGemini(t, "test-key")
	defer gock.Off()

	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/gemini-pro:generateContent").
		Reply(200).
		JSON(geminiTextResponse(`{"new_code": "fixed content", "explanation": "fix null check", "confidence_score": 0.9}`))

	patch := gemini.GenerateCode("fix save crash", "src/save.ts", "old content", "")

	assert.NotNil(t, patch)
	assert.Equal(t, "fixed content", patch.NewCode)
	assert.Equal(t, "fix null check", patch.Explanation)
	assert.True(t, gock.IsDone())
}
