package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// CodegenRequest はコード生成サービスへの依頼内容
type CodegenRequest struct {
	TaskID      string `json:"task_id"`
	RepoURL     string `json:"repo_url"`
	Task        string `json:"task"`
	GithubToken string `json:"github_token"`
	Branch      string `json:"branch"`
	CreatePR    bool   `json:"create_pr"`
}

// CodegenPatch は生成されたファイル1つ分のパッチ
type CodegenPatch struct {
	Path        string `json:"path"`
	NewCode     string `json:"new_code"`
	Explanation string `json:"explanation"`
}

// CodegenResult はコード生成サービスの応答
type CodegenResult struct {
	Success bool           `json:"success"`
	Patches []CodegenPatch `json:"patches"`
	PRURL   string         `json:"pr_url,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Codegen はコード生成サービスの契約
// オーケストレータからはHTTP経由の外部サービスもローカル実装も同じに見える
type Codegen interface {
	Generate(ctx context.Context, req CodegenRequest) (*CodegenResult, error)
}

// NewCodegen はCODEGEN_URLが設定されていればHTTPクライアントを、
// なければGemini+GitHubによるローカル実装を返す
func NewCodegen(config AgentConfig, gemini *GeminiService, gh *GitHubService) Codegen {
	if config.CodegenURL != "" {
		return &HTTPCodegenClient{URL: config.CodegenURL}
	}
	return &LocalCodegen{Gemini: gemini, GitHub: gh}
}

// HTTPCodegenClient は外部のコード生成サービスを呼ぶクライアント
type HTTPCodegenClient struct {
	URL string
}

// Generate はサービスの/generateエンドポイントを叩く
// ネットワーク障害と構造化された失敗応答は別のエラーメッセージで区別する
func (c *HTTPCodegenClient) Generate(ctx context.Context, req CodegenRequest) (*CodegenResult, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	// コード生成は時間がかかるので長めのタイムアウト
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, "POST", strings.TrimSuffix(c.URL, "/")+"/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("codegen service unreachable: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("codegen service error (status %d): %s", resp.StatusCode, string(body))
	}

	var result CodegenResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("codegen response decode error: %v", err)
	}
	return &result, nil
}

// LocalCodegen は外部サービスと同じ契約をプロセス内で実装したもの
// 計画 → ファイルごとの生成 → PR作成 までを行う
type LocalCodegen struct {
	Gemini *GeminiService
	GitHub *GitHubService
}

func (c *LocalCodegen) Generate(ctx context.Context, req CodegenRequest) (*CodegenResult, error) {
	repo := NormalizeRepoSlug(req.RepoURL)

	// 1. リポジトリ構造の把握
	fileTree, err := c.GitHub.GetRepoTree(ctx, req.GithubToken, repo)
	if err != nil {
		return nil, fmt.Errorf("repository discovery failed: %v", err)
	}
	log.Printf("codegen: mapped %d files in %s", len(fileTree), repo)

	// 2. 変更対象の計画
	targetFiles := c.Gemini.PlanImplementation(req.Task, fileTree)
	log.Printf("codegen: planned %d files: %s", len(targetFiles), strings.Join(targetFiles, ", "))

	// 3. ファイルごとにパッチを生成
	// 1ファイルの失敗はスキップで済ませ、全滅したときだけ失敗にする
	patches := []CodegenPatch{}
	for _, path := range targetFiles {
		currentCode, err := c.GitHub.GetFileContent(ctx, req.GithubToken, repo, path)
		if err != nil {
			log.Printf("codegen: skipping %s: %v", path, err)
			currentCode = ""
		}

		changeContext := ""
		if len(targetFiles) > 1 {
			changeContext = "This is part of a multi-file change involving: " + strings.Join(targetFiles, ", ")
		}

		patch := c.Gemini.GenerateCode(req.Task, path, currentCode, changeContext)
		if patch == nil {
			log.Printf("codegen: no patch generated for %s", path)
			continue
		}
		patches = append(patches, CodegenPatch{
			Path:        path,
			NewCode:     patch.NewCode,
			Explanation: patch.Explanation,
		})
	}

	if len(patches) == 0 {
		return &CodegenResult{Success: false, Error: "no valid patches were generated"}, nil
	}

	result := &CodegenResult{Success: true, Patches: patches}
	if !req.CreatePR {
		return result, nil
	}

	// 4. PRを開く
	title := fmt.Sprintf("Agent: %s", truncate(patches[0].Explanation, 50))
	body := buildPRBody(req.Task, patches)
	pr, err := c.GitHub.CreatePR(ctx, req.GithubToken, repo, req.Branch, title, body, patchFiles(patches))
	if err != nil {
		// パッチは作れたがPRが開けなかったケース。呼び出し側が失敗として扱う
		log.Printf("codegen: pr creation failed: %v", err)
		return result, nil
	}

	result.PRURL = pr.GetHTMLURL()
	return result, nil
}

func patchFiles(patches []CodegenPatch) []PRFile {
	files := make([]PRFile, 0, len(patches))
	for _, p := range patches {
		files = append(files, PRFile{Path: p.Path, Content: p.NewCode})
	}
	return files
}

func buildPRBody(task string, patches []CodegenPatch) string {
	var b strings.Builder
	b.WriteString("This PR was automatically generated by the Echo Agent based on community feedback.\n\n")
	b.WriteString("### Feedback Context\n> " + task + "\n\n")
	b.WriteString("### Changes Summary\n")
	for _, p := range patches {
		fmt.Fprintf(&b, "- **%s**: %s\n", p.Path, p.Explanation)
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
