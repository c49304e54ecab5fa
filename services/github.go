package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/go-github/v71/github"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/VaradSinghal/echo.v2-sub000/models"
)

// GitHub API呼び出しのタイムアウト。ペイロードの大きさに合わせる
const (
	githubLookupTimeout = 30 * time.Second // リポジトリ情報・ref取得
	githubTreeTimeout   = 60 * time.Second // 再帰ツリー取得
	githubWriteTimeout  = 60 * time.Second // ファイル書き込み
	githubPRTimeout     = 45 * time.Second // PR作成
)

// GitHubService はソースコードホスティングAPIへの操作をまとめたクライアント
type GitHubService struct{}

func NewGitHubService() *GitHubService {
	return &GitHubService{}
}

// GetAccessToken はユーザーの保存済みGitHubトークンを取得する
func GetAccessToken(db *gorm.DB, userID string) (string, error) {
	var token models.GithubToken
	if err := db.Where("user_id = ?", userID).First(&token).Error; err != nil {
		return "", fmt.Errorf("github access token not found for user %s", userID)
	}
	return token.AccessToken, nil
}

// newClient はトークン付きのgo-githubクライアントを作る。トークンが空なら認証なし
func (s *GitHubService) newClient(token string) *github.Client {
	if token == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return github.NewClient(tc)
}

// NormalizeRepoSlug はURL形式でもowner/repo形式でも受け取れるように正規化する
func NormalizeRepoSlug(repo string) string {
	repo = strings.TrimSpace(repo)
	repo = strings.TrimPrefix(repo, "https://github.com/")
	repo = strings.TrimPrefix(repo, "http://github.com/")
	repo = strings.TrimPrefix(repo, "github.com/")
	return strings.TrimSuffix(repo, "/")
}

// splitRepoSlug は owner/repo 形式を分解する
func splitRepoSlug(repo string) (string, string, error) {
	parts := strings.SplitN(NormalizeRepoSlug(repo), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository slug: %s", repo)
	}
	return parts[0], parts[1], nil
}

// githubErr はAPIエラーをステータスとレスポンス本文込みのメッセージに変換する
// 呼び出し側はこのメッセージをそのままタスクの失敗ログに流す
func githubErr(op string, resp *github.Response, err error) error {
	if resp != nil {
		return fmt.Errorf("%s failed (status %d): %v", op, resp.StatusCode, err)
	}
	return fmt.Errorf("%s failed: %v", op, err)
}

// GetRepoTree はデフォルトブランチの再帰ツリーを取得してblobのパスだけを返す
func (s *GitHubService) GetRepoTree(ctx context.Context, token, repo string) ([]string, error) {
	owner, name, err := splitRepoSlug(repo)
	if err != nil {
		return nil, err
	}
	client := s.newClient(token)

	lookupCtx, cancel := context.WithTimeout(ctx, githubLookupTimeout)
	defer cancel()
	repoInfo, resp, err := client.Repositories.Get(lookupCtx, owner, name)
	if err != nil {
		return nil, githubErr("get repository", resp, err)
	}
	defaultBranch := repoInfo.GetDefaultBranch()

	treeCtx, cancel2 := context.WithTimeout(ctx, githubTreeTimeout)
	defer cancel2()
	tree, resp, err := client.Git.GetTree(treeCtx, owner, name, defaultBranch, true)
	if err != nil {
		return nil, githubErr("get repository tree", resp, err)
	}

	paths := []string{}
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			paths = append(paths, entry.GetPath())
		}
	}
	return paths, nil
}

// GetFileContent はHEADのファイル内容を取得してbase64デコードして返す
func (s *GitHubService) GetFileContent(ctx context.Context, token, repo, path string) (string, error) {
	owner, name, err := splitRepoSlug(repo)
	if err != nil {
		return "", err
	}
	client := s.newClient(token)

	fileCtx, cancel := context.WithTimeout(ctx, githubWriteTimeout)
	defer cancel()
	file, _, resp, err := client.Repositories.GetContents(fileCtx, owner, name, path, nil)
	if err != nil {
		return "", githubErr(fmt.Sprintf("get contents of %s", path), resp, err)
	}
	if file == nil {
		return "", fmt.Errorf("%s is not a file", path)
	}

	// 中身はbase64で返ってくる。GetContentがデコードまで面倒を見る
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode contents of %s: %v", path, err)
	}
	return content, nil
}

// PRFile はCreatePRに渡すファイル変更1つ分
type PRFile struct {
	Path    string
	Content string
}

// CreatePR は新しいブランチにファイル変更をコミットしてPRを開く
// 流れ: デフォルトブランチの先端SHAを取得 → ブランチ作成（既存なら警告のみ）
// → ファイルごとに現在のSHAを引いてPUT → PR作成
func (s *GitHubService) CreatePR(ctx context.Context, token, repo, branch, title, body string, files []PRFile) (*github.PullRequest, error) {
	owner, name, err := splitRepoSlug(repo)
	if err != nil {
		return nil, err
	}
	client := s.newClient(token)

	// 1. デフォルトブランチと先端SHA
	lookupCtx, cancel := context.WithTimeout(ctx, githubLookupTimeout)
	defer cancel()
	repoInfo, resp, err := client.Repositories.Get(lookupCtx, owner, name)
	if err != nil {
		return nil, githubErr("get repository", resp, err)
	}
	defaultBranch := repoInfo.GetDefaultBranch()

	refCtx, cancel2 := context.WithTimeout(ctx, githubLookupTimeout)
	defer cancel2()
	baseRef, resp, err := client.Git.GetRef(refCtx, owner, name, "heads/"+defaultBranch)
	if err != nil {
		return nil, githubErr("get base ref", resp, err)
	}
	baseSHA := baseRef.GetObject().GetSHA()

	// 2. 新しいブランチを作る
	// 前回の試行でブランチが残っていることがあるので、失敗はログだけして続行する
	newRef := &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.Ptr(baseSHA)},
	}
	createCtx, cancel3 := context.WithTimeout(ctx, githubLookupTimeout)
	defer cancel3()
	if _, _, err := client.Git.CreateRef(createCtx, owner, name, newRef); err != nil {
		log.Printf("branch %s creation failed (may already exist): %v", branch, err)
	}

	// 3. ファイルごとにコミット
	for _, file := range files {
		if err := s.putFile(ctx, client, owner, name, branch, title, file); err != nil {
			return nil, err
		}
	}

	// 4. PRを開く
	prCtx, cancel4 := context.WithTimeout(ctx, githubPRTimeout)
	defer cancel4()
	pr, resp, err := client.PullRequests.Create(prCtx, owner, name, &github.NewPullRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(defaultBranch),
	})
	if err != nil {
		return nil, githubErr("create pull request", resp, err)
	}

	log.Printf("pull request #%d created for %s/%s", pr.GetNumber(), owner, name)
	return pr, nil
}

// putFile はブランチ上の現在のSHAを引いてからファイルを更新する
// SHAはupdate-in-placeコミットに必要。新規ファイルならSHAなしで作成になる
func (s *GitHubService) putFile(ctx context.Context, client *github.Client, owner, name, branch, title string, file PRFile) error {
	getCtx, cancel := context.WithTimeout(ctx, githubLookupTimeout)
	defer cancel()

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr("Agent: " + title),
		Content: []byte(file.Content),
		Branch:  github.Ptr(branch),
	}

	current, _, _, err := client.Repositories.GetContents(getCtx, owner, name, file.Path, &github.RepositoryContentGetOptions{Ref: branch})
	if err == nil && current != nil {
		opts.SHA = github.Ptr(current.GetSHA())
	}

	putCtx, cancel2 := context.WithTimeout(ctx, githubWriteTimeout)
	defer cancel2()
	_, resp, err := client.Repositories.UpdateFile(putCtx, owner, name, file.Path, opts)
	if err != nil {
		return githubErr(fmt.Sprintf("update %s", file.Path), resp, err)
	}
	return nil
}
