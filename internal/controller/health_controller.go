package controller

import (
	"context"
	"net/http"
	"stem_progress_backend/internal/repository"
	"stem_progress_backend/internal/util"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthController struct {
	KV      repository.KVRepository
	Backend string
}

func NewHealthController(kv repository.KVRepository, backend string) *HealthController {
	return &HealthController{KV: kv, Backend: backend}
}

// @Summary 健康检查
// @Description 检查服务与持久化后端状态
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Router /health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	// 检查存储连接
	if err := c.KV.Ping(pingCtx); err != nil {
		util.Error(ctx, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	util.Success(ctx, gin.H{
		"status": "ok",
		"components": gin.H{
			"storage": gin.H{
				"backend": c.Backend,
				"status":  "up",
			},
		},
	})
}
