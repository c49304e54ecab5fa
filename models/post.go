package models

import (
	"time"

	"gorm.io/gorm"
)

// Post はフィードに投稿されたGitHubリポジトリの紹介記事
// フィード側が所有するエンティティで、エージェントからは読み取り専用で参照する
type Post struct {
	ID            string `gorm:"primaryKey"`
	Title         string
	Content       string
	UserID        string // 投稿者のユーザーID（github_tokensの参照に使う）
	RepoID        string // 紐づくリポジトリ（owner/repo 形式）
	LikesCount    int    // フィード側が更新するエンゲージメントカウンタ
	CommentsCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

// Comment はコミュニティコメント。エージェントパイプラインの入力になる
type Comment struct {
	ID        string `gorm:"primaryKey"`
	PostID    string `gorm:"index"`
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}
