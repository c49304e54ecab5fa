package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/VaradSinghal/echo.v2-sub000/handlers"
	"github.com/VaradSinghal/echo.v2-sub000/models"
	"github.com/VaradSinghal/echo.v2-sub000/services"
)

func main() {
	// .envがあれば読み込む（無くても環境変数だけで動く）
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found. using environment variables")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "echo_agent.db"
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Post{},
		&models.Comment{},
		&models.MonitoredPost{},
		&models.FeedbackAnalysis{},
		&models.CommentEmbedding{},
		&models.AgentTask{},
		&models.GeneratedCode{},
		&models.GithubPR{},
		&models.GithubToken{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	config := services.LoadAgentConfig()
	pool := services.NewKeyPool()
	gemini := services.NewGeminiService(pool)
	github := services.NewGitHubService()
	codegen := services.NewCodegen(config, gemini, github)
	runner := services.NewTaskRunner(db, github, codegen, config)

	agentHandler := handlers.NewAgentHandler(db, gemini, runner, config)
	monitorHandler := handlers.NewMonitorHandler(db)
	feedHandler := handlers.NewFeedHandler(db)
	searchHandler := handlers.NewSearchHandler(db, gemini)

	r := gin.Default()

	api := r.Group("/api")
	{
		api.POST("/agent/run", agentHandler.RunSweep)
		api.GET("/agent/tasks", agentHandler.ListTasks)
		api.GET("/agent/tasks/:id", agentHandler.GetTask)
		api.POST("/agent/tasks/:id/run", agentHandler.RunTask)
		api.POST("/agent/tasks/:id/approve", agentHandler.ApproveTask)
		api.POST("/agent/tasks/:id/reject", agentHandler.RejectTask)

		api.POST("/posts", feedHandler.CreatePost)
		api.POST("/posts/:id/comments", feedHandler.CreateComment)
		api.GET("/posts/:id/comments", feedHandler.ListComments)
		api.POST("/posts/:id/monitor", monitorHandler.ToggleMonitoring)
		api.GET("/posts/:id/topics", searchHandler.GetTopics)
		api.GET("/monitored", monitorHandler.ListMonitored)

		api.GET("/search", searchHandler.SemanticSearch)
	}

	// バックグラウンドスイープ
	// デプロイ上はこのプロセスが唯一のスケジューラである前提
	// （同一タスクを複数ワーカーが同時に触らないことはクレームの条件付きUPDATEと
	// この運用前提の両方で守っている）
	go func() {
		ticker := time.NewTicker(config.SweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			stats := services.RunAgentSweep(db, gemini, runner, config)
			log.Printf("sweep done: monitored=%d qualified=%d analyzed=%d tasks=%d",
				stats.Monitored, stats.MetThreshold, stats.Analyzed, stats.TasksCreated)
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
