package models

import (
	"time"

	"gorm.io/gorm"
)

// FeedbackAnalysis はコメント1件に対するLLMの分類結果
// コメントごとに1行のみ（コメントIDにユニーク制約）。一度書いたら更新しない
type FeedbackAnalysis struct {
	ID                string  `gorm:"primaryKey"`
	CommentID         string  `gorm:"uniqueIndex"`
	SentimentScore    float64 // -1.0（ネガティブ）〜 1.0（ポジティブ）
	Category          string  // "feature_request", "bug", "question", "feedback"
	Keywords          StringList
	PriorityScore     float64 // 0.0（低）〜 1.0（高）
	ActionableSummary string  // 何をすべきかの1文サマリ
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         gorm.DeletedAt `gorm:"index"`
}

// CommentEmbedding はコメント本文の埋め込みベクトル。類似検索に使う
type CommentEmbedding struct {
	ID        string `gorm:"primaryKey"`
	CommentID string `gorm:"uniqueIndex"`
	Embedding Vector
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}
