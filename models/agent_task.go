package models

import (
	"time"

	"gorm.io/gorm"
)

// AgentTask のステータス定数
// completed / failed / rejected が終端状態で、そこからの遷移はしない
const (
	TaskStatusPending         = "pending"
	TaskStatusPendingApproval = "pending_approval"
	TaskStatusProcessing      = "processing"
	TaskStatusCompleted       = "completed"
	TaskStatusFailed          = "failed"
	TaskStatusRejected        = "rejected"
)

// AgentTask はフィードバック1件をPRまで運ぶワークフローの状態レコード
// ステートマシンの唯一の正であり、UIはこの行をポーリング/購読して進捗を表示する
type AgentTask struct {
	ID              string `gorm:"primaryKey"`
	MonitoredPostID string `gorm:"index"`
	TaskType        string // 現状 "generate_code" のみ
	Status          string `gorm:"index"`
	CurrentStep     string  // UI向けの進捗ラベル。状態遷移の正ではない
	Result          JSONMap // comment_id, task_description, error, pr_url など
	Logs            TaskLogs
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       gorm.DeletedAt `gorm:"index"`
}

// IsTerminal は終端状態かどうかを返す
func (t *AgentTask) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed || t.Status == TaskStatusRejected
}
