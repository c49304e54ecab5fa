package models

import (
	"time"

	"gorm.io/gorm"
)

// GithubToken はユーザーごとのGitHubアクセストークン
// OAuthコールバックで保存され、エージェントのPR作成時に参照される
type GithubToken struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"uniqueIndex"`
	AccessToken string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}
