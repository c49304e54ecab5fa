package models

import (
	"time"

	"gorm.io/gorm"
)

// GeneratedCode はタスクが生成したファイル単位のパッチ案
// 1ファイルにつき1行。PRが開かれたら "applied" になる
type GeneratedCode struct {
	ID          string `gorm:"primaryKey"`
	TaskID      string `gorm:"index"`
	FilePath    string
	NewCode     string
	Explanation string
	Status      string // "ready", "applied"
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

// GithubPR は実際に開かれたプルリクエストの記録。タスクごとに1行のみ
type GithubPR struct {
	ID              string `gorm:"primaryKey"`
	GeneratedCodeID string `gorm:"index"`
	PRNumber        int
	PRURL           string
	Status          string // "open", "merged", "closed"
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       gorm.DeletedAt `gorm:"index"`
}
