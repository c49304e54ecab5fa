package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/VaradSinghal/echo.v2-sub000/services"
)

// SearchHandler は類似検索とトピック抽出のAPI面
type SearchHandler struct {
	DB     *gorm.DB
	Gemini *services.GeminiService
}

func NewSearchHandler(db *gorm.DB, gemini *services.GeminiService) *SearchHandler {
	return &SearchHandler{DB: db, Gemini: gemini}
}

// SemanticSearch は GET /api/search?q=...&repo=...&threshold=0.7
func (h *SearchHandler) SemanticSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	repoID := c.DefaultQuery("repo", "all")
	threshold := 0.7
	if t := c.Query("threshold"); t != "" {
		if parsed, err := strconv.ParseFloat(t, 64); err == nil {
			threshold = parsed
		}
	}

	matches, err := services.SemanticSearch(h.DB, h.Gemini, query, repoID, threshold, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// GetTopics は投稿のコメント群から共通テーマを返す
func (h *SearchHandler) GetTopics(c *gin.Context) {
	postID := c.Param("id")

	topics, err := services.GetTopicsForPost(h.DB, h.Gemini, postID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}
