package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TopComment は外部ランキングサービスが選んだ代表コメント
// しきい値を超えたきっかけのコメントより、ランキング上位のコメントのほうが
// 実行可能なフィードバックであることが多いため、こちらを優先する
type TopComment struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Summary string `json:"summary"`
}

// TopCommentClient はトップコメント選定サービスのクライアント
type TopCommentClient struct {
	URL string
}

// FetchTopComment は指定コメント群から代表コメントを選ばせる
// 失敗時はエラーを返し、呼び出し側はきっかけコメントにフォールバックする
func (c *TopCommentClient) FetchTopComment(ctx context.Context, commentIDs []string) (*TopComment, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("top comment service not configured")
	}
	if len(commentIDs) == 0 {
		return nil, fmt.Errorf("no comment ids given")
	}

	payload := map[string]interface{}{"comment_ids": commentIDs}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, "POST", strings.TrimSuffix(c.URL, "/")+"/top_comment", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("top comment service unreachable: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("top comment service error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		TopComment *TopComment `json:"top_comment"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("top comment response decode error: %v", err)
	}
	if result.TopComment == nil || result.TopComment.Content == "" {
		return nil, fmt.Errorf("top comment service returned no comment")
	}
	return result.TopComment, nil
}
