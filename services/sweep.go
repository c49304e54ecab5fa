package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/VaradSinghal/echo.v2-sub000/models"
)

// SweepStats はスイープ1回分の結果サマリ
type SweepStats struct {
	Monitored    int `json:"monitored"`
	MetThreshold int `json:"met_threshold"`
	Analyzed     int `json:"analyzed"`
	TasksCreated int `json:"tasks_created"`
}

// QualifyingPosts はアクティブな監視対象のうちエンゲージメントしきい値を
// 超えているものを返す。しきい値は設定値（デフォルトはいいね1・コメント1）
func QualifyingPosts(db *gorm.DB, config AgentConfig) ([]models.MonitoredPost, error) {
	var monitored []models.MonitoredPost
	if err := db.Where("is_active = ?", true).Find(&monitored).Error; err != nil {
		return nil, err
	}

	qualified := []models.MonitoredPost{}
	for _, m := range monitored {
		var post models.Post
		if err := db.Where("id = ?", m.PostID).First(&post).Error; err != nil {
			log.Printf("monitored post %s references missing post %s", m.ID, m.PostID)
			continue
		}

		pass := post.LikesCount >= config.ThresholdLikes && post.CommentsCount >= config.ThresholdComments
		log.Printf("agent trace | post %q | eng: %dL %dC | threshold: %dL %dC | %s",
			truncate(post.Title, 20), post.LikesCount, post.CommentsCount,
			config.ThresholdLikes, config.ThresholdComments, passLabel(pass))
		if pass {
			qualified = append(qualified, m)
		}
	}
	return qualified, nil
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "SKIP"
}

// UnanalyzedComments はしきい値を超えた投稿の直近コメントのうち、
// まだFeedbackAnalysisが存在しないものを返す
// この存在チェックは二重分析を避けるための節約であって競合の正しさの保証ではない
// 最終的な重複排除はcomment_idのユニーク制約が行う
func UnanalyzedComments(db *gorm.DB, posts []models.MonitoredPost, limit int) ([]models.Comment, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	postIDs := make([]string, 0, len(posts))
	for _, p := range posts {
		postIDs = append(postIDs, p.PostID)
	}

	var comments []models.Comment
	if err := db.Where("post_id IN ?", postIDs).
		Order("created_at desc").
		Limit(limit).
		Find(&comments).Error; err != nil {
		return nil, err
	}

	pending := []models.Comment{}
	for _, c := range comments {
		var count int64
		db.Model(&models.FeedbackAnalysis{}).Where("comment_id = ?", c.ID).Count(&count)
		if count == 0 {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// RunAgentSweep はエージェントのメインループ1周分:
// 放置タスクの回収 → しきい値ゲート → 未分析コメントの分類と埋め込み →
// 高インパクトな分類（feature_request / bug）ならタスクを作って起動する
// runnerがnilのときはタスク作成のみで自動実行しない
func RunAgentSweep(db *gorm.DB, gemini *GeminiService, runner *TaskRunner, config AgentConfig) SweepStats {
	stats := SweepStats{}

	// 0. ハートビートが途絶えたprocessingタスクを失敗として回収
	CleanupStaleTasks(db, config.StaleAfter)

	// 1. しきい値ゲート
	var allMonitored int64
	db.Model(&models.MonitoredPost{}).Where("is_active = ?", true).Count(&allMonitored)
	stats.Monitored = int(allMonitored)

	qualified, err := QualifyingPosts(db, config)
	if err != nil {
		log.Printf("monitored post fetch error: %v", err)
		return stats
	}
	stats.MetThreshold = len(qualified)
	if len(qualified) == 0 {
		log.Println("no posts met the engagement threshold")
		return stats
	}

	// 2. 未分析コメントの収集
	comments, err := UnanalyzedComments(db, qualified, config.RecentCommentLimit)
	if err != nil {
		log.Printf("comment fetch error: %v", err)
		return stats
	}
	log.Printf("found %d comments to analyze", len(comments))

	byPost := map[string]models.MonitoredPost{}
	for _, m := range qualified {
		byPost[m.PostID] = m
	}

	// 3. 1コメントずつ分類する。失敗はそのコメントのスキップで済ませ、
	// バッチ全体は止めない
	for _, comment := range comments {
		analysis := gemini.AnalyzeFeedback(comment.Content)
		if analysis == nil {
			log.Printf("analysis returned nothing for comment %s. skip", comment.ID)
			continue
		}

		row := models.FeedbackAnalysis{
			ID:                uuid.NewString(),
			CommentID:         comment.ID,
			SentimentScore:    analysis.SentimentScore,
			Category:          analysis.Category,
			Keywords:          analysis.Keywords,
			PriorityScore:     analysis.PriorityScore,
			ActionableSummary: analysis.ActionableSummary,
		}
		if err := db.Create(&row).Error; err != nil {
			// ユニーク制約違反は並行スイープとの競合。no-opとして流す
			if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "unique") {
				log.Printf("comment %s already analyzed concurrently. skip", comment.ID)
				continue
			}
			log.Printf("analysis insert error (comment %s): %v", comment.ID, err)
			continue
		}
		stats.Analyzed++
		log.Printf("analysis saved: comment=%s category=%s sentiment=%.2f", comment.ID, analysis.Category, analysis.SentimentScore)

		// 埋め込みは分類と独立に作る。失敗しても分類は活きる
		if embedding := gemini.GenerateEmbedding(comment.Content); embedding != nil {
			emb := models.CommentEmbedding{
				ID:        uuid.NewString(),
				CommentID: comment.ID,
				Embedding: embedding,
			}
			if err := db.Create(&emb).Error; err != nil {
				log.Printf("embedding insert error (comment %s): %v", comment.ID, err)
			}
		}

		// 4. 高インパクトならコード生成タスクを作る
		if analysis.Category != "feature_request" && analysis.Category != "bug" {
			continue
		}

		monitored, ok := byPost[comment.PostID]
		if !ok {
			continue
		}

		task := createAgentTask(db, monitored.ID, comment.ID, analysis, config)
		if task == nil {
			continue
		}
		stats.TasksCreated++

		// 承認ゲートが無効なら即座に別goroutineで実行する
		if runner != nil && task.Status == models.TaskStatusPending {
			go func(id string) {
				if err := runner.Run(context.Background(), id); err != nil {
					log.Printf("autonomous task dispatch failed (task id: %s): %v", id, err)
				}
			}(task.ID)
		}
	}

	return stats
}

// createAgentTask はpending（承認ゲート有効時はpending_approval）のタスク行を作る
func createAgentTask(db *gorm.DB, monitoredPostID, commentID string, analysis *FeedbackResult, config AgentConfig) *models.AgentTask {
	status := models.TaskStatusPending
	step := "Queued"
	if config.RequireApproval {
		status = models.TaskStatusPendingApproval
		step = "Waiting for approval"
	}

	now := time.Now()
	task := models.AgentTask{
		ID:              uuid.NewString(),
		MonitoredPostID: monitoredPostID,
		TaskType:        "generate_code",
		Status:          status,
		CurrentStep:     step,
		Logs: models.TaskLogs{
			{Timestamp: now.Add(-3 * time.Second), Message: "High-impact signal detected in community feed."},
			{Timestamp: now.Add(-1 * time.Second), Message: "Analysis: category identified as [" + strings.ToUpper(analysis.Category) + "]."},
			{Timestamp: now, Message: "Autonomous engineering task initialized."},
		},
		Result: models.JSONMap{
			"comment_id": commentID,
			"reason":     "Automated trigger for " + analysis.Category,
		},
	}
	if err := db.Create(&task).Error; err != nil {
		log.Printf("task creation error (comment %s): %v", commentID, err)
		return nil
	}
	log.Printf("agent task created: %s (%s)", task.ID, analysis.Category)
	return &task
}
