package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/VaradSinghal/echo.v2-sub000/models"
	"github.com/VaradSinghal/echo.v2-sub000/services"
)

// MonitorHandler は監視対象のトグルと一覧
type MonitorHandler struct {
	DB *gorm.DB
}

func NewMonitorHandler(db *gorm.DB) *MonitorHandler {
	return &MonitorHandler{DB: db}
}

// ToggleMonitoring は投稿の監視を有効/無効に切り替える
// (post, repo) の組は1行のみで、既存行があれば反転、なければ作成する
func (h *MonitorHandler) ToggleMonitoring(c *gin.Context) {
	postID := c.Param("id")

	var req struct {
		RepoID string `json:"repo_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	repoID := services.NormalizeRepoSlug(req.RepoID)
	if repoID == "" {
		repoID = "unknown"
	}

	var existing models.MonitoredPost
	err := h.DB.Where("post_id = ?", postID).First(&existing).Error

	if err == nil {
		existing.IsActive = !existing.IsActive
		existing.RepoID = repoID // 更新時もクリーンな形式に揃える
		existing.UpdatedAt = time.Now()
		if err := h.DB.Save(&existing).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "active": existing.IsActive})
		return
	}

	monitored := models.MonitoredPost{
		ID:       uuid.NewString(),
		PostID:   postID,
		RepoID:   repoID,
		IsActive: true,
	}
	if err := h.DB.Create(&monitored).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "active": true})
}

// ListMonitored はアクティブな監視対象を返す
func (h *MonitorHandler) ListMonitored(c *gin.Context) {
	var monitored []models.MonitoredPost
	if err := h.DB.Where("is_active = ?", true).Find(&monitored).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"monitored": monitored})
}
