package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stem_progress_backend/internal/middleware"
	"stem_progress_backend/internal/model"
	"stem_progress_backend/internal/repository"
	"stem_progress_backend/internal/service"
	"stem_progress_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubAPI struct {
	submitErr error
	submitted int
}

func (s *stubAPI) SubmitProgress(ctx context.Context, token string, req service.ProgressSubmission) (*service.ProgressSubmissionResult, error) {
	s.submitted++
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &service.ProgressSubmissionResult{NewAchievements: []model.Achievement{{"id": "first-game"}}}, nil
}

func (s *stubAPI) GetAchievements(ctx context.Context, token, userID string) (*service.AchievementsResult, error) {
	return nil, errors.New("achievements offline")
}

func (s *stubAPI) GetLeaderboard(ctx context.Context, token string, query service.LeaderboardQuery) (model.LeaderboardResponse, error) {
	return model.LeaderboardResponse{
		"topPlayers": json.RawMessage(`[{"name":"Ada","points":10}]`),
		"period":     json.RawMessage(`"` + query.Period + `"`),
	}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, secret string, api service.ProgressAPI) (*gin.Engine, *service.ProgressStore, *repository.MemoryKVRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	kv := repository.NewMemoryKVRepository()
	store := service.NewProgressStore(kv, api, nil, zap.NewNop())
	c := NewStoreController(store)
	h := NewHealthController(kv, util.BackendMemory)

	r := gin.New()
	r.GET("/health", h.HealthCheck)
	g := r.Group("/store", middleware.TryAuthMiddleware(secret))
	g.POST("/session", middleware.AuthMiddleware(), c.SetSession)
	g.DELETE("/session", c.ClearSession)
	g.GET("/state", c.GetState)
	g.POST("/games/:gameId/progress", c.UpdateGameProgress)
	g.POST("/games/:gameId/progress/local", c.UpdateLocalGameProgress)
	g.GET("/games/:gameId/progress", c.GetGameProgress)
	g.PUT("/games/:gameId/score", c.UpdateGameScore)
	g.POST("/points", c.AddPoints)
	g.POST("/badges", c.AddBadge)
	g.POST("/modules/:moduleId/complete", c.CompleteModule)
	g.PUT("/module", c.SetCurrentModule)
	g.GET("/categories", c.GetCategorySummary)
	g.POST("/achievements/refresh", c.RefreshAchievements)
	g.GET("/leaderboard", c.GetLeaderboard)
	g.POST("/reset", c.Reset)
	g.POST("/eco-mode/toggle", c.ToggleEcoMode)
	return r, store, kv
}

func doJSON(r http.Handler, method, path string, body interface{}, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", util.MimeJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestUpdateGameProgressLocalOnly(t *testing.T) {
	api := &stubAPI{}
	r, _, _ := setupRouter(t, "", api)

	w, env := doJSON(r, http.MethodPost, "/store/games/basic-arithmetic/progress", gin.H{
		"score": 45, "questionsAttempted": 15, "totalQuestions": 15, "timeSpent": 90, "streak": 3,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, api.submitted)

	var data struct {
		Update service.ProgressUpdate `json:"update"`
		State  struct {
			UserProgress struct {
				TotalPoints int `json:"totalPoints"`
				Level       int `json:"level"`
			} `json:"userProgress"`
			GameProgress map[string]map[string]interface{} `json:"gameProgress"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 225, data.Update.Entry.MaxScore)
	assert.False(t, data.Update.Sync.Attempted)
	assert.Equal(t, 45, data.State.UserProgress.TotalPoints)
	assert.Equal(t, 1, data.State.UserProgress.Level)

	entry := data.State.GameProgress["basic-arithmetic"]
	assert.Equal(t, true, entry["completed"])
	assert.EqualValues(t, 20, entry["accuracy"])
}

func TestUpdateGameProgressValidation(t *testing.T) {
	r, store, _ := setupRouter(t, "", &stubAPI{})

	for _, body := range []gin.H{
		{"questionsAttempted": 1, "totalQuestions": 1},
		{"score": 10, "questionsAttempted": 1, "totalQuestions": 0},
		{"score": -1, "questionsAttempted": 1, "totalQuestions": 5},
		{"score": 50, "questionsAttempted": 1, "totalQuestions": 5, "maxScore": 20},
		{"score": 1, "questionsAttempted": 1, "totalQuestions": math.MaxInt},
	} {
		w, _ := doJSON(r, http.MethodPost, "/store/games/x/progress", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
	}
	assert.Empty(t, store.State().GameProgress)
}

func TestSessionLifecycle(t *testing.T) {
	api := &stubAPI{submitErr: errors.New("unreachable")}
	r, store, _ := setupRouter(t, "", api)

	w, _ := doJSON(r, http.MethodPost, "/store/session", gin.H{"user": gin.H{"id": "u-1", "totalGamesPlayed": 4}}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = doJSON(r, http.MethodPost, "/store/session", gin.H{"user": gin.H{"id": "u-1", "totalGamesPlayed": 4}},
		map[string]string{"Authorization": "Bearer opaque"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, store.IsAuthenticated())
	assert.Equal(t, 40, store.State().UserProgress.TotalPoints)

	// 远端失败时仍返回 200，同步结果中带错误
	w, env := doJSON(r, http.MethodPost, "/store/games/coding-basics/progress", gin.H{
		"score": 30, "questionsAttempted": 2, "totalQuestions": 2,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, api.submitted)
	var data struct {
		Update service.ProgressUpdate `json:"update"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.True(t, data.Update.Sync.Attempted)
	assert.False(t, data.Update.Sync.Synced)
	assert.Contains(t, data.Update.Sync.Error, "unreachable")
	assert.Equal(t, 70, store.State().UserProgress.TotalPoints)

	w, _ = doJSON(r, http.MethodDelete, "/store/session", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, store.IsAuthenticated())

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, util.AuthCookieName, cookies[0].Name)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestSessionVerifiesSignedToken(t *testing.T) {
	r, store, _ := setupRouter(t, testSecret, &stubAPI{})

	w, _ := doJSON(r, http.MethodPost, "/store/session", gin.H{"user": gin.H{"id": "u-1"}},
		map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := util.GenerateJWT("u-2", "b@example.com", testSecret, time.Hour)
	require.NoError(t, err)
	w, _ = doJSON(r, http.MethodPost, "/store/session", gin.H{"user": gin.H{"id": "u-1"}},
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, store.IsAuthenticated())

	token, err = util.GenerateJWT("u-1", "a@example.com", testSecret, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/store/session", bytes.NewBufferString(`{"user":{"id":"u-1"}}`))
	req.Header.Set("Content-Type", util.MimeJSON)
	req.AddCookie(&http.Cookie{Name: util.AuthCookieName, Value: token})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.IsAuthenticated())
}

func TestLegacyHelpers(t *testing.T) {
	r, store, _ := setupRouter(t, "", &stubAPI{})

	w, env := doJSON(r, http.MethodPost, "/store/points", gin.H{"points": 1200}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"totalPoints":1200,"level":2}`, string(env.Data))

	w, _ = doJSON(r, http.MethodPost, "/store/points", gin.H{"points": -3}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, env = doJSON(r, http.MethodPost, "/store/badges", gin.H{"badge": "owl"}, nil)
	assert.JSONEq(t, `{"added":true}`, string(env.Data))
	_, env = doJSON(r, http.MethodPost, "/store/badges", gin.H{"badge": "owl"}, nil)
	assert.JSONEq(t, `{"added":false}`, string(env.Data))

	_, env = doJSON(r, http.MethodPost, "/store/modules/m-1/complete", nil, nil)
	assert.JSONEq(t, `{"added":true}`, string(env.Data))
	_, env = doJSON(r, http.MethodPost, "/store/modules/m-1/complete", nil, nil)
	assert.JSONEq(t, `{"added":false}`, string(env.Data))

	_, env = doJSON(r, http.MethodPut, "/store/games/prime-hunter/score", gin.H{"score": 7}, nil)
	var entry model.GameScoreEntry
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.Equal(t, 7, entry.Score)
	assert.Equal(t, 1, entry.Attempts)

	_, _ = doJSON(r, http.MethodPut, "/store/module", gin.H{"moduleId": "fractions"}, nil)
	_, env = doJSON(r, http.MethodPost, "/store/eco-mode/toggle", nil, nil)
	assert.JSONEq(t, `{"ecoMode":true}`, string(env.Data))

	state := store.State()
	assert.Equal(t, "fractions", state.CurrentModule)
	assert.Equal(t, []string{"owl"}, state.UserProgress.Badges)
	assert.Equal(t, []string{"m-1"}, state.UserProgress.CompletedModules)
}

func TestGetGameProgressDefaults(t *testing.T) {
	r, _, _ := setupRouter(t, "", &stubAPI{})

	w, env := doJSON(r, http.MethodGet, "/store/games/unknown/progress", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"progress":0,"completed":false,"bestScore":0,"accuracy":0,"timeSpent":0}`, string(env.Data))
}

func TestCategoriesAndReset(t *testing.T) {
	r, store, kv := setupRouter(t, "", &stubAPI{})

	_, _ = doJSON(r, http.MethodPost, "/store/games/solar-system/progress/local", gin.H{
		"score": 20, "questionsAttempted": 4, "totalQuestions": 4, "timeSpent": 30,
	}, nil)

	_, env := doJSON(r, http.MethodGet, "/store/categories", nil, nil)
	var summary map[string]model.CategoryStats
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, model.CategoryStats{GamesPlayed: 1, GamesCompleted: 1, Points: 20, TimeSpent: 30}, summary["science"])
	assert.Contains(t, summary, "mathematics")

	w, _ := doJSON(r, http.MethodPost, "/store/reset", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.State().GameProgress)
	assert.Equal(t, 0, kv.Len())
}

func TestRemoteReadsReportBadGateway(t *testing.T) {
	r, store, _ := setupRouter(t, "", &stubAPI{})

	// 未登录时刷新成就为空操作
	w, _ := doJSON(r, http.MethodPost, "/store/achievements/refresh", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	store.SetUser(context.Background(), &model.User{ID: "u-1"}, "tok")
	w, _ = doJSON(r, http.MethodPost, "/store/achievements/refresh", nil, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, store.State().Error, "achievements offline")

	w, env := doJSON(r, http.MethodGet, "/store/leaderboard?period=weekly", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"topPlayers":[{"name":"Ada","points":10}],"period":"weekly"}`, string(env.Data))
	assert.Len(t, store.State().Leaderboard, 1)
}

func TestHealthCheck(t *testing.T) {
	r, _, _ := setupRouter(t, "", &stubAPI{})

	w, env := doJSON(r, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","components":{"storage":{"backend":"memory","status":"up"}}}`, string(env.Data))
}
