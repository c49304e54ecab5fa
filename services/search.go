package services

import (
	"fmt"
	"math"
	"sort"

	"gorm.io/gorm"

	"github.com/VaradSinghal/echo.v2-sub000/models"
)

// SearchMatch は類似検索の結果1件
type SearchMatch struct {
	CommentID  string  `json:"comment_id"`
	Content    string  `json:"content"`
	PostID     string  `json:"post_id"`
	RepoID     string  `json:"repo_id"`
	Similarity float64 `json:"similarity"`
}

// SemanticSearch はクエリを埋め込みに変換し、保存済みのコメント埋め込みと
// コサイン類似度で突き合わせる。repoIDが"all"以外なら投稿のリポジトリで絞る
func SemanticSearch(db *gorm.DB, gemini *GeminiService, query, repoID string, threshold float64, limit int) ([]SearchMatch, error) {
	queryVec := gemini.GenerateEmbedding(query)
	if queryVec == nil {
		return nil, fmt.Errorf("failed to generate embedding for query")
	}

	var embeddings []models.CommentEmbedding
	if err := db.Find(&embeddings).Error; err != nil {
		return nil, err
	}

	matches := []SearchMatch{}
	for _, emb := range embeddings {
		sim := CosineSimilarity(queryVec, emb.Embedding)
		if sim < threshold {
			continue
		}

		var comment models.Comment
		if err := db.Where("id = ?", emb.CommentID).First(&comment).Error; err != nil {
			continue
		}
		var post models.Post
		if err := db.Where("id = ?", comment.PostID).First(&post).Error; err != nil {
			continue
		}
		if repoID != "" && repoID != "all" && NormalizeRepoSlug(post.RepoID) != NormalizeRepoSlug(repoID) {
			continue
		}

		matches = append(matches, SearchMatch{
			CommentID:  comment.ID,
			Content:    comment.Content,
			PostID:     comment.PostID,
			RepoID:     post.RepoID,
			Similarity: sim,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// CosineSimilarity は2つのベクトルのコサイン類似度。長さが違えば0
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// GetTopicsForPost は投稿のコメント群から共通テーマを抽出する
func GetTopicsForPost(db *gorm.DB, gemini *GeminiService, postID string) ([]string, error) {
	var comments []models.Comment
	if err := db.Where("post_id = ?", postID).Limit(50).Find(&comments).Error; err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(comments))
	for _, c := range comments {
		texts = append(texts, c.Content)
	}
	return gemini.ExtractTopics(texts), nil
}
