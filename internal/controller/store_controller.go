package controller

import (
	"context"
	"errors"
	"net/http"
	"stem_progress_backend/internal/model"
	"stem_progress_backend/internal/service"
	"stem_progress_backend/internal/util"
	"stem_progress_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StoreController struct {
	Store *service.ProgressStore
}

func NewStoreController(store *service.ProgressStore) *StoreController {
	return &StoreController{Store: store}
}

// SessionRequest token 通过 Authorization 头或 authToken cookie 传入
type SessionRequest struct {
	User model.User `json:"user" binding:"required"`
}

type GameProgressRequest struct {
	Score              *int `json:"score" binding:"required,min=0"`
	QuestionsAttempted int  `json:"questionsAttempted" binding:"min=0"`
	TotalQuestions     int  `json:"totalQuestions" binding:"required,min=1"`
	TimeSpent          int  `json:"timeSpent" binding:"min=0"`
	Streak             int  `json:"streak" binding:"min=0"`
	MaxScore           int  `json:"maxScore" binding:"min=0"`
}

func (r GameProgressRequest) toResult(gameID string) service.GameResult {
	return service.GameResult{
		GameID:             gameID,
		Score:              *r.Score,
		QuestionsAttempted: r.QuestionsAttempted,
		TotalQuestions:     r.TotalQuestions,
		TimeSpent:          r.TimeSpent,
		Streak:             r.Streak,
		MaxScore:           r.MaxScore,
	}
}

type GameScoreRequest struct {
	Score *int `json:"score" binding:"required,min=0"`
}

type PointsRequest struct {
	Points *int `json:"points" binding:"required,min=0"`
}

type BadgeRequest struct {
	Badge string `json:"badge" binding:"required"`
}

type CurrentModuleRequest struct {
	ModuleID string `json:"moduleId"`
}

// @Summary 登录会话
// @Description 安装当前用户与 token，积分与连续天数取自服务端统计
// @Tags 进度存储
// @Accept json
// @Produce json
// @Param body body SessionRequest true "用户信息"
// @Success 200 {object} util.Response
// @Router /store/session [post]
func (c *StoreController) SetSession(ctx *gin.Context) {
	var req SessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	token := util.GetTokenFromContext(ctx)

	// 配置了 secret 时 token 必须属于该用户
	if claims := util.GetClaimsFromContext(ctx); claims != nil && claims.UserID != req.User.ID {
		logger.Log.Warn("session token does not match user",
			zap.String("user_id", req.User.ID),
			zap.String("token_user_id", claims.UserID),
		)
		util.Error(ctx, http.StatusForbidden, util.ErrTokenUserMismatch.Error())
		return
	}

	c.Store.SetUser(ctx.Request.Context(), &req.User, token)
	util.Success(ctx, c.Store.State())
}

// @Summary 退出登录
// @Description 清除身份并删除 authToken cookie，本地游戏进度保留
// @Tags 进度存储
// @Produce json
// @Success 200 {object} util.Response
// @Router /store/session [delete]
func (c *StoreController) ClearSession(ctx *gin.Context) {
	c.Store.Logout(ctx.Request.Context())
	ctx.SetCookie(util.AuthCookieName, "", -1, "/", "", false, true)
	util.Success(ctx, c.Store.State())
}

// @Summary 获取存储状态
// @Tags 进度存储
// @Produce json
// @Success 200 {object} util.Response
// @Router /store/state [get]
func (c *StoreController) GetState(ctx *gin.Context) {
	util.Success(ctx, c.Store.State())
}

// @Summary 上报游戏进度
// @Description 先写本地，登录状态下同步远端；远端失败不影响本地结果
// @Tags 进度存储
// @Accept json
// @Produce json
// @Param gameId path string true "游戏ID"
// @Param body body GameProgressRequest true "本局结果"
// @Success 200 {object} util.Response
// @Router /store/games/{gameId}/progress [post]
func (c *StoreController) UpdateGameProgress(ctx *gin.Context) {
	c.updateProgress(ctx, c.Store.UpdateGameProgress)
}

// @Summary 仅本地记录游戏进度
// @Tags 进度存储
// @Accept json
// @Produce json
// @Param gameId path string true "游戏ID"
// @Param body body GameProgressRequest true "本局结果"
// @Success 200 {object} util.Response
// @Router /store/games/{gameId}/progress/local [post]
func (c *StoreController) UpdateLocalGameProgress(ctx *gin.Context) {
	c.updateProgress(ctx, c.Store.UpdateLocalGameProgress)
}

type progressFunc func(context.Context, service.GameResult) (*service.ProgressUpdate, error)

func (c *StoreController) updateProgress(ctx *gin.Context, apply progressFunc) {
	var req GameProgressRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	update, err := apply(ctx.Request.Context(), req.toResult(ctx.Param("gameId")))
	if err != nil {
		if errors.Is(err, util.ErrInvalidGameResult) {
			util.BadRequest(ctx, err.Error())
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"update": update,
		"state":  c.Store.State(),
	})
}

// @Summary 获取单个游戏进度概览
// @Tags 进度存储
// @Produce json
// @Param gameId path string true "游戏ID"
// @Success 200 {object} util.Response
// @Router /store/games/{gameId}/progress [get]
func (c *StoreController) GetGameProgress(ctx *gin.Context) {
	util.Success(ctx, c.Store.GetGameProgress(ctx.Param("gameId")))
}

// @Summary 记录游戏最高分
// @Tags 进度存储
// @Accept json
// @Produce json
// @Param gameId path string true "游戏ID"
// @Param body body GameScoreRequest true "得分"
// @Success 200 {object} util.Response
// @Router /store/games/{gameId}/score [put]
func (c *StoreController) UpdateGameScore(ctx *gin.Context) {
	var req GameScoreRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	entry, err := c.Store.UpdateGameScore(ctx.Request.Context(), ctx.Param("gameId"), *req.Score)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	util.Success(ctx, entry)
}

// @Summary 直接加分
// @Tags 进度存储
// @Accept json
// @Produce json
// @Param body body PointsRequest true "积分"
// @Success 200 {object} util.Response
// @Router /store/points [post]
func (c *StoreController) AddPoints(ctx *gin.Context) {
	var req PointsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	total, err := c.Store.AddPoints(ctx.Request.Context(), *req.Points)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	util.Success(ctx, gin.H{
		"totalPoints": total,
		"level":       model.LevelForPoints(total),
	})
}

// @Summary 添加徽章
// @Tags 进度存储
// @Accept json
// @Produce json
// @Param body body BadgeRequest true "徽章"
// @Success 200 {object} util.Response
// @Router /store/badges [post]
func (c *StoreController) AddBadge(ctx *gin.Context) {
	var req BadgeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	added, err := c.Store.AddBadge(ctx.Request.Context(), req.Badge)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	util.Success(ctx, gin.H{"added": added})
}

// @Summary 完成学习模块
// @Tags 进度存储
// @Produce json
// @Param moduleId path string true "模块ID"
// @Success 200 {object} util.Response
// @Router /store/modules/{moduleId}/complete [post]
func (c *StoreController) CompleteModule(ctx *gin.Context) {
	added, err := c.Store.CompleteModule(ctx.Request.Context(), ctx.Param("moduleId"))
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	util.Success(ctx, gin.H{"added": added})
}

// @Summary 设置当前模块
// @Tags 进度存储
// @Accept json
// @Produce json
// @Param body body CurrentModuleRequest true "模块"
// @Success 200 {object} util.Response
// @Router /store/module [put]
func (c *StoreController) SetCurrentModule(ctx *gin.Context) {
	var req CurrentModuleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	c.Store.SetCurrentModule(ctx.Request.Context(), req.ModuleID)
	util.Success(ctx, gin.H{"currentModule": req.ModuleID})
}

// @Summary 刷新成就
// @Description 未登录时不访问远端；失败时保留原有成就
// @Tags 进度存储
// @Produce json
// @Success 200 {object} util.Response
// @Router /store/achievements/refresh [post]
func (c *StoreController) RefreshAchievements(ctx *gin.Context) {
	if err := c.Store.FetchAchievements(ctx.Request.Context()); err != nil {
		c.remoteFailed(ctx, err)
		return
	}
	state := c.Store.State()
	util.Success(ctx, gin.H{
		"achievements": state.Achievements,
		"userProgress": state.UserProgress,
	})
}

// @Summary 获取排行榜
// @Tags 进度存储
// @Produce json
// @Param category query string false "学科" default(all)
// @Param period query string false "周期" default(all-time)
// @Success 200 {object} util.Response
// @Router /store/leaderboard [get]
func (c *StoreController) GetLeaderboard(ctx *gin.Context) {
	board, err := c.Store.FetchLeaderboard(ctx.Request.Context(), ctx.DefaultQuery("category", "all"), ctx.DefaultQuery("period", "all-time"))
	if err != nil {
		c.remoteFailed(ctx, err)
		return
	}
	util.Success(ctx, board)
}

// @Summary 同时刷新成就与排行榜
// @Tags 进度存储
// @Produce json
// @Param category query string false "学科" default(all)
// @Param period query string false "周期" default(all-time)
// @Success 200 {object} util.Response
// @Router /store/refresh [post]
func (c *StoreController) Refresh(ctx *gin.Context) {
	board, err := c.Store.Refresh(ctx.Request.Context(), ctx.DefaultQuery("category", "all"), ctx.DefaultQuery("period", "all-time"))
	if err != nil {
		c.remoteFailed(ctx, err)
		return
	}
	util.Success(ctx, gin.H{
		"leaderboard": board,
		"state":       c.Store.State(),
	})
}

// @Summary 按学科汇总进度
// @Tags 进度存储
// @Produce json
// @Success 200 {object} util.Response
// @Router /store/categories [get]
func (c *StoreController) GetCategorySummary(ctx *gin.Context) {
	util.Success(ctx, c.Store.CategorySummary())
}

// @Summary 重置游戏数据
// @Description 清空本地与持久化的进度，登录状态不变
// @Tags 进度存储
// @Produce json
// @Success 200 {object} util.Response
// @Router /store/reset [post]
func (c *StoreController) Reset(ctx *gin.Context) {
	if err := c.Store.ResetGameData(ctx.Request.Context()); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, c.Store.State())
}

// @Summary 切换省电模式
// @Tags 进度存储
// @Produce json
// @Success 200 {object} util.Response
// @Router /store/eco-mode/toggle [post]
func (c *StoreController) ToggleEcoMode(ctx *gin.Context) {
	util.Success(ctx, gin.H{"ecoMode": c.Store.ToggleEcoMode(ctx.Request.Context())})
}

// remoteFailed 远端失败返回 502，缓存数据不变
func (c *StoreController) remoteFailed(ctx *gin.Context, err error) {
	logger.Log.Warn("remote request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	util.Error(ctx, http.StatusBadGateway, err.Error())
}
