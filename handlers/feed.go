package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/VaradSinghal/echo.v2-sub000/models"
)

// FeedHandler は投稿とコメントの最小限の受け口
// フィード本体（UI・いいね・並び順など）は別サービスの責務で、
// ここではパイプラインに入力を流すのに必要な分だけ持つ
type FeedHandler struct {
	DB *gorm.DB
}

func NewFeedHandler(db *gorm.DB) *FeedHandler {
	return &FeedHandler{DB: db}
}

// CreatePost は投稿を作成する
func (h *FeedHandler) CreatePost(c *gin.Context) {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		UserID  string `json:"user_id"`
		RepoID  string `json:"repo_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	post := models.Post{
		ID:      uuid.NewString(),
		Title:   req.Title,
		Content: req.Content,
		UserID:  req.UserID,
		RepoID:  req.RepoID,
	}
	if err := h.DB.Create(&post).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"post": post})
}

// CreateComment はコメントを投稿する。投稿のコメントカウンタも進める
func (h *FeedHandler) CreateComment(c *gin.Context) {
	postID := c.Param("id")

	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	var post models.Post
	if err := h.DB.Where("id = ?", postID).First(&post).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	comment := models.Comment{
		ID:      uuid.NewString(),
		PostID:  postID,
		Content: req.Content,
	}
	if err := h.DB.Create(&comment).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.DB.Model(&post).Update("comments_count", gorm.Expr("comments_count + 1"))

	c.JSON(http.StatusCreated, gin.H{"comment": comment})
}

// ListComments は投稿のコメントを新しい順で返す
func (h *FeedHandler) ListComments(c *gin.Context) {
	postID := c.Param("id")

	var comments []models.Comment
	if err := h.DB.Where("post_id = ?", postID).Order("created_at desc").Find(&comments).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}
