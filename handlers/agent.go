package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/VaradSinghal/echo.v2-sub000/models"
	"github.com/VaradSinghal/echo.v2-sub000/services"
)

// AgentHandler はエージェントパイプラインのAPI面
type AgentHandler struct {
	DB     *gorm.DB
	Gemini *services.GeminiService
	Runner *services.TaskRunner
	Config services.AgentConfig
}

func NewAgentHandler(db *gorm.DB, gemini *services.GeminiService, runner *services.TaskRunner, config services.AgentConfig) *AgentHandler {
	return &AgentHandler{DB: db, Gemini: gemini, Runner: runner, Config: config}
}

// RunSweep はスイープを即時実行する（cronからも同じ経路で叩かれる）
func (h *AgentHandler) RunSweep(c *gin.Context) {
	stats := services.RunAgentSweep(h.DB, h.Gemini, h.Runner, h.Config)
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// RunTask は指定タスクをその場で実行する（run now）
// 実行本体はgoroutineに逃がし、クレームの成否だけ同期で返す
func (h *AgentHandler) RunTask(c *gin.Context) {
	taskID := c.Param("id")

	var task models.AgentTask
	if err := h.DB.Where("id = ?", taskID).First(&task).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if task.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "task already finished"})
		return
	}

	go func() {
		if err := h.Runner.Run(context.Background(), taskID); err != nil {
			if errors.Is(err, services.ErrTaskConflict) {
				log.Printf("task %s was not claimable", taskID)
				return
			}
			log.Printf("task run error (task id: %s): %v", taskID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"success": true, "task_id": taskID})
}

// GetTask はタスク本体と生成コード・PR行をまとめて返す
// UIはこれをポーリングして進捗を描画する
func (h *AgentHandler) GetTask(c *gin.Context) {
	taskID := c.Param("id")

	var task models.AgentTask
	if err := h.DB.Where("id = ?", taskID).First(&task).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	var generated []models.GeneratedCode
	h.DB.Where("task_id = ?", taskID).Find(&generated)

	var prs []models.GithubPR
	if len(generated) > 0 {
		codeIDs := make([]string, 0, len(generated))
		for _, g := range generated {
			codeIDs = append(codeIDs, g.ID)
		}
		h.DB.Where("generated_code_id IN ?", codeIDs).Find(&prs)
	}

	c.JSON(http.StatusOK, gin.H{
		"task":           task,
		"generated_code": generated,
		"pull_requests":  prs,
	})
}

// ListTasks はタスク一覧を新しい順で返す
func (h *AgentHandler) ListTasks(c *gin.Context) {
	var tasks []models.AgentTask
	if err := h.DB.Order("created_at desc").Limit(50).Find(&tasks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "task list error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// ApproveTask は承認待ちタスクを承認して実行に進める
func (h *AgentHandler) ApproveTask(c *gin.Context) {
	taskID := c.Param("id")

	if err := services.ApproveTask(h.DB, taskID); err != nil {
		if errors.Is(err, services.ErrTaskConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "task is not waiting for approval"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	go func() {
		if err := h.Runner.Run(context.Background(), taskID); err != nil {
			log.Printf("approved task run error (task id: %s): %v", taskID, err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RejectTask は承認待ちタスクを却下する
func (h *AgentHandler) RejectTask(c *gin.Context) {
	taskID := c.Param("id")

	if err := services.RejectTask(h.DB, taskID); err != nil {
		if errors.Is(err, services.ErrTaskConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "task is not waiting for approval"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
