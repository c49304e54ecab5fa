package models

import (
	"time"

	"gorm.io/gorm"
)

// MonitoredPost はエージェントが監視対象にしている (投稿, リポジトリ) のペア
// 同じ組み合わせは1行のみ（トグル時はupsert）。無効化しても削除はしない
type MonitoredPost struct {
	ID        string `gorm:"primaryKey"`
	PostID    string `gorm:"index:idx_post_repo,unique"`
	RepoID    string `gorm:"index:idx_post_repo,unique"` // owner/repo 形式で保存する
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}
