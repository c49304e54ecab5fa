package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/VaradSinghal/echo.v2-sub000/models"
)

// ErrTaskConflict はpendingでないタスクを実行しようとしたときのエラー
// 別のワーカーが先にクレームしたか、既に終端状態になっている
var ErrTaskConflict = errors.New("task is not claimable")

// TaskRunner はタスクオーケストレーション一式の依存をまとめた実行器
type TaskRunner struct {
	DB      *gorm.DB
	GitHub  *GitHubService
	Codegen Codegen
	Config  AgentConfig
}

func NewTaskRunner(db *gorm.DB, gh *GitHubService, codegen Codegen, config AgentConfig) *TaskRunner {
	return &TaskRunner{DB: db, GitHub: gh, Codegen: codegen, Config: config}
}

// AddTaskLog はタスクのログリストに1件追記する
// ログは追記専用で、毎回行を読み直してから書き戻す（read-modify-write）
// 同一タスクに対するワーカーは常に1つという前提で動く
func AddTaskLog(db *gorm.DB, taskID, message, status, step string) {
	var task models.AgentTask
	if err := db.Where("id = ?", taskID).First(&task).Error; err != nil {
		log.Printf("task log append failed (task id: %s): %v", taskID, err)
		return
	}

	logs := append(task.Logs, models.TaskLog{
		Timestamp: time.Now(),
		Message:   message,
		Status:    status,
	})

	if step == "" {
		step = message
	}

	now := time.Now()
	updates := map[string]interface{}{
		"logs":           logs,
		"current_step":   step,
		"last_heartbeat": &now,
	}
	// 終端状態はここでは書かない。状態遷移はオーケストレータ本体が行う
	if status == models.TaskStatusProcessing {
		updates["status"] = models.TaskStatusProcessing
	}

	if err := db.Model(&models.AgentTask{}).Where("id = ?", taskID).Updates(updates).Error; err != nil {
		log.Printf("task update error (task id: %s): %v", taskID, err)
	}
	log.Printf("[task %s] %s", taskID, message)
}

// FailTask はタスクを失敗状態にする
// メモリ上のtaskは信用せず行を読み直してからログを追記する
// （途中のフェーズが既に行を書き換えている可能性があるため）
func FailTask(db *gorm.DB, taskID, message string) {
	var task models.AgentTask
	if err := db.Where("id = ?", taskID).First(&task).Error; err != nil {
		log.Printf("fail task read error (task id: %s): %v", taskID, err)
		return
	}

	logs := append(task.Logs, models.TaskLog{
		Timestamp: time.Now(),
		Message:   "ERROR: " + message,
		Status:    models.TaskStatusFailed,
	})

	// 既存のresultの中身（comment_idなど）は捨てずにerrorだけ足す
	result := task.Result
	if result == nil {
		result = models.JSONMap{}
	}
	result["error"] = message

	updates := map[string]interface{}{
		"status":       models.TaskStatusFailed,
		"logs":         logs,
		"current_step": "Failed: " + message,
		"result":       result,
	}
	if err := db.Model(&models.AgentTask{}).Where("id = ?", taskID).Updates(updates).Error; err != nil {
		log.Printf("fail task update error (task id: %s): %v", taskID, err)
	}
	log.Printf("[task %s] failed: %s", taskID, message)
}

// claimTask はpendingのタスクをprocessingに遷移させる
// 条件付きUPDATEで行い、0行更新ならほかのワーカーに取られたか状態が違う
func claimTask(db *gorm.DB, taskID string) error {
	now := time.Now()
	result := db.Model(&models.AgentTask{}).
		Where("id = ? AND status = ?", taskID, models.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":         models.TaskStatusProcessing,
			"current_step":   "Initializing generation",
			"last_heartbeat": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskConflict
	}
	return nil
}

// Run はタスク1件をクレームして完了か失敗まで駆動する
// 途中のフェーズで起きたエラーはすべて失敗ログとしてタスク行に書き込まれ、
// プロセス自体は落とさない。失敗したタスクの自動リトライはしない
func (r *TaskRunner) Run(ctx context.Context, taskID string) error {
	if err := claimTask(r.DB, taskID); err != nil {
		return err
	}
	AddTaskLog(r.DB, taskID, "Autonomous generation started.", models.TaskStatusProcessing, "Initializing generation")

	if err := r.run(ctx, taskID); err != nil {
		FailTask(r.DB, taskID, err.Error())
		return nil
	}
	return nil
}

func (r *TaskRunner) run(ctx context.Context, taskID string) error {
	var task models.AgentTask
	if err := r.DB.Where("id = ?", taskID).First(&task).Error; err != nil {
		return fmt.Errorf("task not found: %v", err)
	}

	var monitored models.MonitoredPost
	if err := r.DB.Where("id = ?", task.MonitoredPostID).First(&monitored).Error; err != nil {
		return fmt.Errorf("monitored post not found: %v", err)
	}

	// 2. コンテキスト解決: このタスクが扱うフィードバック本文を決める
	feedback := r.resolveFeedback(ctx, &task, &monitored)
	AddTaskLog(r.DB, taskID, fmt.Sprintf("Feedback context resolved: %s", truncate(feedback, 80)), models.TaskStatusProcessing, "Context Loaded")

	// 3. クレデンシャル解決
	// トークンがなくてもこのフェーズでは失敗させない。空トークンを渡して
	// 下流のGitHub呼び出しに自然に失敗させる
	token := r.resolveToken(&monitored, taskID)

	// 4. コード生成サービスへ委譲
	repoURL := monitored.RepoID
	if !strings.HasPrefix(repoURL, "https://") {
		repoURL = "https://github.com/" + NormalizeRepoSlug(repoURL)
	}
	branch := "echo-cli-fix-" + shortID(taskID)

	AddTaskLog(r.DB, taskID, fmt.Sprintf("Dispatching generation for %s on branch %s...", monitored.RepoID, branch), models.TaskStatusProcessing, "Dispatching")

	result, err := r.Codegen.Generate(ctx, CodegenRequest{
		TaskID:      taskID,
		RepoURL:     repoURL,
		Task:        feedback,
		GithubToken: token,
		Branch:      branch,
		CreatePR:    true,
	})
	if err != nil {
		return err
	}

	// 5. 結果の検証: successかつパッチが1件以上なければ失敗
	if !result.Success || len(result.Patches) == 0 {
		if result.Error != "" {
			return fmt.Errorf("no patches returned: %s", result.Error)
		}
		return errors.New("no patches returned")
	}

	// 6. パッチの永続化
	codeIDs := make([]string, 0, len(result.Patches))
	for _, patch := range result.Patches {
		row := models.GeneratedCode{
			ID:          uuid.NewString(),
			TaskID:      taskID,
			FilePath:    patch.Path,
			NewCode:     patch.NewCode,
			Explanation: patch.Explanation,
			Status:      "ready",
		}
		if err := r.DB.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save generated code: %v", err)
		}
		codeIDs = append(codeIDs, row.ID)
	}
	AddTaskLog(r.DB, taskID, fmt.Sprintf("Synthesized %d patches.", len(result.Patches)), models.TaskStatusProcessing, "Patches Saved")

	// 7. PRチェック: パッチだけあってPRがない状態は部分成功ではなく失敗
	if result.PRURL == "" {
		return errors.New("PR creation failed")
	}

	prNumber := ParsePRNumber(result.PRURL)

	if err := r.DB.Model(&models.GeneratedCode{}).Where("task_id = ?", taskID).
		Update("status", "applied").Error; err != nil {
		log.Printf("generated code status update error (task id: %s): %v", taskID, err)
	}

	pr := models.GithubPR{
		ID:              uuid.NewString(),
		GeneratedCodeID: codeIDs[0],
		PRNumber:        prNumber,
		PRURL:           result.PRURL,
		Status:          "open",
	}
	if err := r.DB.Create(&pr).Error; err != nil {
		return fmt.Errorf("failed to record pull request: %v", err)
	}

	now := time.Now()
	if err := r.DB.Model(&models.AgentTask{}).Where("id = ?", taskID).Updates(map[string]interface{}{
		"status":         models.TaskStatusCompleted,
		"current_step":   "PR Link: " + result.PRURL,
		"last_heartbeat": &now,
	}).Error; err != nil {
		log.Printf("task complete update error (task id: %s): %v", taskID, err)
	}
	AddTaskLog(r.DB, taskID, fmt.Sprintf("PR #%d successfully dispatched!", prNumber), models.TaskStatusCompleted, "PR Link: "+result.PRURL)

	// 8. 監視元を無効化して同じスレッドでの再発火を防ぐ
	// ユーザーが再度有効にするまで動かない
	if err := r.DB.Model(&models.MonitoredPost{}).Where("id = ?", monitored.ID).
		Update("is_active", false).Error; err != nil {
		log.Printf("monitored post deactivate error (id: %s): %v", monitored.ID, err)
	}

	NotifyPROpened(monitored.RepoID, result.PRURL)
	return nil
}

// resolveFeedback はタスクの扱うフィードバック本文を決める
// トップコメントサービス → きっかけコメントのサマリ → 生テキストの順で落ちる
// しきい値を超えたきっかけのコメントより、ランキングされたコメントのほうが
// 実行可能なことが多いので2段構えにしている
func (r *TaskRunner) resolveFeedback(ctx context.Context, task *models.AgentTask, monitored *models.MonitoredPost) string {
	if r.Config.TopCommentURL != "" {
		var comments []models.Comment
		if err := r.DB.Where("post_id = ?", monitored.PostID).Find(&comments).Error; err == nil && len(comments) > 0 {
			ids := make([]string, 0, len(comments))
			for _, c := range comments {
				ids = append(ids, c.ID)
			}
			client := &TopCommentClient{URL: r.Config.TopCommentURL}
			if top, err := client.FetchTopComment(ctx, ids); err == nil {
				if top.Summary != "" {
					return top.Summary
				}
				return top.Content
			} else {
				log.Printf("top comment service unavailable, falling back: %v", err)
			}
		}
	}

	// きっかけコメントにフォールバック
	commentID, _ := task.Result["comment_id"].(string)
	if commentID != "" {
		var analysis models.FeedbackAnalysis
		if err := r.DB.Where("comment_id = ?", commentID).First(&analysis).Error; err == nil && analysis.ActionableSummary != "" {
			return analysis.ActionableSummary
		}
		var comment models.Comment
		if err := r.DB.Where("id = ?", commentID).First(&comment).Error; err == nil && comment.Content != "" {
			return comment.Content
		}
	}
	return "Community request for improvements."
}

// resolveToken は投稿の所有者のGitHubトークンを引く。無ければ空文字列
func (r *TaskRunner) resolveToken(monitored *models.MonitoredPost, taskID string) string {
	var post models.Post
	if err := r.DB.Where("id = ?", monitored.PostID).First(&post).Error; err != nil {
		AddTaskLog(r.DB, taskID, "Warning: owning post not found, proceeding without credentials.", models.TaskStatusProcessing, "")
		return ""
	}

	token, err := GetAccessToken(r.DB, post.UserID)
	if err != nil {
		// Scenario: トークン未登録。ここでは落とさずログに残して続行する
		AddTaskLog(r.DB, taskID, "Warning: "+err.Error(), models.TaskStatusProcessing, "")
		return ""
	}
	return token
}

// ParsePRNumber はPR URLの末尾のパスセグメントを番号として読む
// パースできなければ0。これは表示用のフォールバックで「PR番号0」の意味ではない
func ParsePRNumber(prURL string) int {
	parts := strings.Split(strings.TrimSuffix(prURL, "/"), "/")
	if len(parts) == 0 {
		return 0
	}
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0
	}
	return n
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// ApproveTask は承認待ちタスクを実行キューに進める
// pending_approval以外からの遷移は拒否する
func ApproveTask(db *gorm.DB, taskID string) error {
	result := db.Model(&models.AgentTask{}).
		Where("id = ? AND status = ?", taskID, models.TaskStatusPendingApproval).
		Update("status", models.TaskStatusPending)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskConflict
	}
	AddTaskLog(db, taskID, "Task approved by reviewer.", "", "Approved")
	return nil
}

// RejectTask は承認待ちタスクを却下する。rejectedは終端状態
func RejectTask(db *gorm.DB, taskID string) error {
	var task models.AgentTask
	if err := db.Where("id = ?", taskID).First(&task).Error; err != nil {
		return err
	}

	logs := append(task.Logs, models.TaskLog{
		Timestamp: time.Now(),
		Message:   "Task rejected by reviewer.",
		Status:    models.TaskStatusRejected,
	})

	result := db.Model(&models.AgentTask{}).
		Where("id = ? AND status = ?", taskID, models.TaskStatusPendingApproval).
		Updates(map[string]interface{}{
			"status":       models.TaskStatusRejected,
			"current_step": "Rejected",
			"logs":         logs,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskConflict
	}
	return nil
}

// CleanupStaleTasks はハートビートが古いprocessingタスクを放棄とみなして失敗にする
// プロセスが途中で死ぬとタスクはprocessingのまま残るので、スイープの先頭で回収する
func CleanupStaleTasks(db *gorm.DB, staleAfter time.Duration) {
	cutoff := time.Now().Add(-staleAfter)

	var tasks []models.AgentTask
	if err := db.Where("status = ? AND last_heartbeat < ?", models.TaskStatusProcessing, cutoff).
		Find(&tasks).Error; err != nil {
		log.Printf("stale task check error: %v", err)
		return
	}

	for _, task := range tasks {
		FailTask(db, task.ID, "Agent process timed out (no heartbeat)")
		log.Printf("stale task %s marked as failed", task.ID)
	}
}
