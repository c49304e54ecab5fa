package services

import (
	"context"
	"testing"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
)

func TestNewCodegenSelectsImplementation(t *testing.T) {
	config := LoadAgentConfig()
	gemini := newTestGemini(t, "key-a")
	gh := NewGitHubService()

	config.CodegenURL = "http://codegen.internal:8000"
	_, isHTTP := NewCodegen(config, gemini, gh).(*HTTPCodegenClient)
	assert.True(t, isHTTP)

	config.CodegenURL = ""
	_, isLocal := NewCodegen(config, gemini, gh).(*LocalCodegen)
	assert.True(t, isLocal)
}

func TestHTTPCodegenClient(t *testing.T) {
	defer gock.Off()

	gock.New("http://codegen.internal:8000").
		Post("/generate").
		JSON(map[string]interface{}{
			"task_id":      "task1",
			"repo_url":     "https://github.com/acme/app",
			"task":         "Add a save button",
			"github_token": "gho_secret",
			"branch":       "echo-cli-fix-task1",
			"create_pr":    true,
		}).
		Reply(200).
		JSON(map[string]interface{}{
			"success": true,
			"patches": []map[string]string{
				{"path": "src/editor.ts", "new_code": "code", "explanation": "added save button"},
			},
			"pr_url": "https://github.com/acme/app/pull/9",
		})

	client := &HTTPCodegenClient{URL: "http://codegen.internal:8000"}
	result, err := client.Generate(context.Background(), CodegenRequest{
		TaskID:      "task1",
		RepoURL:     "https://github.com/acme/app",
		Task:        "Add a save button",
		GithubToken: "gho_secret",
		Branch:      "echo-cli-fix-task1",
		CreatePR:    true,
	})

	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Patches, 1)
	assert.Equal(t, "src/editor.ts", result.Patches[0].Path)
	assert.Equal(t, "https://github.com/acme/app/pull/9", result.PRURL)
	assert.True(t, gock.IsDone())
}

func TestHTTPCodegenClientServiceError(t *testing.T) {
	defer gock.Off()

	gock.New("http://codegen.internal:8000").
		Post("/generate").
		Reply(500).
		JSON(map[string]string{"detail": "model overloaded"})

	client := &HTTPCodegenClient{URL: "http://codegen.internal:8000"}
	_, err := client.Generate(context.Background(), CodegenRequest{TaskID: "task1"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "codegen service error (status 500)")
}

func TestHTTPCodegenClientUnreachable(t *testing.T) {
	defer gock.Off()

	gock.New("http://codegen.internal:8000").
		Post("/generate").
		ReplyError(assert.AnError)

	client := &HTTPCodegenClient{URL: "http://codegen.internal:8000"}
	_, err := client.Generate(context.Background(), CodegenRequest{TaskID: "task1"})

	// ネットワーク障害は構造化エラー応答とは別のメッセージで区別される
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "codegen service unreachable")
}

func TestLocalCodegenGenerate(t *testing.T) {
	defer gock.Off()
	gemini := newTestGemini(t, "key-a")

	// リポジトリの把握
	gock.New("https://api.github.com").
		Get("/repos/acme/app").
		Reply(200).
		JSON(map[string]interface{}{"default_branch": "main"})
	gock.New("https://api.github.com").
		Get("/repos/acme/app/git/trees/main").
		Reply(200).
		JSON(map[string]interface{}{
			"sha": "abc",
			"tree": []map[string]interface{}{
				{"path": "README.md", "type": "blob"},
				{"path": "src/editor.ts", "type": "blob"},
			},
		})

	// 計画: 変更対象はsrc/editor.ts 1件
	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/gemini-pro:generateContent").
		Reply(200).
		JSON(geminiTextResponse(`["src/editor.ts"]`))

	// 現在の内容の取得は失敗してもよい（新規ファイル扱い）
	gock.New("https://api.github.com").
		Get("/repos/acme/app/contents/src/editor.ts").
		Reply(404).
		JSON(map[string]string{"message": "Not Found"})

	// パッチ生成
	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/gemini-pro:generateContent").
		Reply(200).
		JSON(geminiTextResponse(`{"new_code": "export const save = () => {}", "explanation": "added save handler", "confidence_score": 0.9}`))

	local := &LocalCodegen{Gemini: gemini, GitHub: NewGitHubService()}
	result, err := local.Generate(context.Background(), CodegenRequest{
		TaskID:  "task1",
		RepoURL: "https://github.com/acme/app",
		Task:    "Add a save button",
	})

	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Patches, 1)
	assert.Equal(t, "src/editor.ts", result.Patches[0].Path)
	assert.Equal(t, "export const save = () => {}", result.Patches[0].NewCode)
	assert.Equal(t, "added save handler", result.Patches[0].Explanation)
	// CreatePR: falseなのでPRは開かれない
	assert.Empty(t, result.PRURL)
}

func TestLocalCodegenNoPatches(t *testing.T) {
	defer gock.Off()
	gemini := newTestGemini(t, "key-a")

	gock.New("https://api.github.com").
		Get("/repos/acme/app").
		Reply(200).
		JSON(map[string]interface{}{"default_branch": "main"})
	gock.New("https://api.github.com").
		Get("/repos/acme/app/git/trees/main").
		Reply(200).
		JSON(map[string]interface{}{
			"sha":  "abc",
			"tree": []map[string]interface{}{{"path": "README.md", "type": "blob"}},
		})

	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/gemini-pro:generateContent").
		Reply(200).
		JSON(geminiTextResponse(`["README.md"]`))

	gock.New("https://api.github.com").
		Get("/repos/acme/app/contents/README.md").
		Reply(200).
		JSON(map[string]interface{}{"type": "file", "path": "README.md", "content": "", "sha": "s"})

	// 生成がJSONを返さなかった: パッチ0件は失敗応答になる
	gock.New("https://generativelanguage.googleapis.com").
		Post("/v1beta/models/gemini-pro:generateContent").
		Reply(200).
		JSON(geminiTextResponse("I could not produce a patch."))

	local := &LocalCodegen{Gemini: gemini, GitHub: NewGitHubService()}
	result, err := local.Generate(context.Background(), CodegenRequest{
		TaskID:  "task1",
		RepoURL: "acme/app",
		Task:    "Add a save button",
	})

	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no valid patches")
}

func TestLocalCodegenDiscoveryFailure(t *testing.T) {
	defer gock.Off()
	gemini := newTestGemini(t, "key-a")

	gock.New("https://api.github.com").
		Get("/repos/acme/gone").
		Reply(404).
		JSON(map[string]string{"message": "Not Found"})

	local := &LocalCodegen{Gemini: gemini, GitHub: NewGitHubService()}
	_, err := local.Generate(context.Background(), CodegenRequest{
		TaskID:  "task1",
		RepoURL: "acme/gone",
		Task:    "Add a save button",
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "repository discovery failed")
}

func TestBuildPRBody(t *testing.T) {
	body := buildPRBody("Add a save button", []CodegenPatch{
		{Path: "src/editor.ts", Explanation: "added save handler"},
		{Path: "README.md", Explanation: "documented the save button"},
	})

	assert.Contains(t, body, "> Add a save button")
	assert.Contains(t, body, "**src/editor.ts**: added save handler")
	assert.Contains(t, body, "**README.md**: documented the save button")
}
