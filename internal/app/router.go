package app

import (
	"stem_progress_backend/internal/config"
	"stem_progress_backend/internal/middleware"
	"stem_progress_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())
	router.GET("/health", c.health.HealthCheck)

	store := router.Group("/store")
	store.Use(middleware.TryAuthMiddleware(cfg.JWT.Secret))
	{
		// 会话
		store.POST("/session", middleware.AuthMiddleware(), c.store.SetSession)
		store.DELETE("/session", c.store.ClearSession)
		store.GET("/state", c.store.GetState)

		// 游戏进度
		games := store.Group("/games/:gameId")
		{
			games.POST("/progress", c.store.UpdateGameProgress)
			games.POST("/progress/local", c.store.UpdateLocalGameProgress)
			games.GET("/progress", c.store.GetGameProgress)
			games.PUT("/score", c.store.UpdateGameScore)
		}

		// 积分、徽章、模块
		store.POST("/points", c.store.AddPoints)
		store.POST("/badges", c.store.AddBadge)
		store.POST("/modules/:moduleId/complete", c.store.CompleteModule)
		store.PUT("/module", c.store.SetCurrentModule)
		store.GET("/categories", c.store.GetCategorySummary)

		// 远端数据
		store.POST("/achievements/refresh", c.store.RefreshAchievements)
		store.GET("/leaderboard", c.store.GetLeaderboard)
		store.POST("/refresh", c.store.Refresh)

		store.POST("/reset", c.store.Reset)
		store.POST("/eco-mode/toggle", c.store.ToggleEcoMode)
	}
}
