package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"stem_progress_backend/internal/config"
	"stem_progress_backend/internal/model"
	"stem_progress_backend/internal/util"
	"stem_progress_backend/pkg/monitoring"
	"stem_progress_backend/pkg/tracing"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// ProgressAPI 远端成就/排行榜服务
type ProgressAPI interface {
	SubmitProgress(ctx context.Context, token string, req ProgressSubmission) (*ProgressSubmissionResult, error)
	GetAchievements(ctx context.Context, token, userID string) (*AchievementsResult, error)
	GetLeaderboard(ctx context.Context, token string, query LeaderboardQuery) (model.LeaderboardResponse, error)
}

type ProgressSubmission struct {
	UserID             string         `json:"userId"`
	GameID             string         `json:"gameId"`
	Category           model.Category `json:"category"`
	Score              int            `json:"score"`
	MaxScore           int            `json:"maxScore"`
	QuestionsAttempted int            `json:"questionsAttempted"`
	TotalQuestions     int            `json:"totalQuestions"`
	TimeSpent          int            `json:"timeSpent"`
	Streak             int            `json:"streak"`
}

type ProgressSubmissionResult struct {
	NewAchievements []model.Achievement `json:"newAchievements"`
}

type AchievementsResult struct {
	Achievements []model.Achievement `json:"achievements"`
	TotalPoints  int                 `json:"totalPoints"`
}

type LeaderboardQuery struct {
	Category string
	Period   string
	UserID   string
}

// APIClient 基于 HTTP 的 ProgressAPI 实现，可在配置热更新时替换地址
type APIClient struct {
	mu         sync.RWMutex
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewAPIClient(cfg config.APIConfig, log *zap.Logger) *APIClient {
	return &APIClient{
		baseURL:    cfg.ResolvedBaseURL(),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// Reconfigure 替换地址与超时，正在进行的请求不受影响
func (c *APIClient) Reconfigure(cfg config.APIConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = cfg.ResolvedBaseURL()
	c.httpClient = &http.Client{Timeout: cfg.Timeout}
}

func (c *APIClient) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

func (c *APIClient) SubmitProgress(ctx context.Context, token string, req ProgressSubmission) (*ProgressSubmissionResult, error) {
	var out ProgressSubmissionResult
	if err := c.do(ctx, "submit_progress", http.MethodPost, "/games/progress", nil, token, req, &out); err != nil {
		return nil, err
	}
	if out.NewAchievements == nil {
		out.NewAchievements = []model.Achievement{}
	}
	return &out, nil
}

func (c *APIClient) GetAchievements(ctx context.Context, token, userID string) (*AchievementsResult, error) {
	q := url.Values{}
	q.Set("userId", userID)

	var out AchievementsResult
	if err := c.do(ctx, "get_achievements", http.MethodGet, "/achievements", q, token, nil, &out); err != nil {
		return nil, err
	}
	if out.Achievements == nil {
		out.Achievements = []model.Achievement{}
	}
	return &out, nil
}

func (c *APIClient) GetLeaderboard(ctx context.Context, token string, query LeaderboardQuery) (model.LeaderboardResponse, error) {
	q := url.Values{}
	q.Set("category", query.Category)
	q.Set("period", query.Period)
	q.Set("userId", query.UserID)

	out := model.LeaderboardResponse{}
	if err := c.do(ctx, "get_leaderboard", http.MethodGet, "/leaderboard", q, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) do(ctx context.Context, op, method, path string, query url.Values, token string, body, out interface{}) (err error) {
	c.mu.RLock()
	base, httpClient := c.baseURL, c.httpClient
	c.mu.RUnlock()

	endpoint := base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", util.MimeJSON)
	if body != nil {
		req.Header.Set("Content-Type", util.MimeJSON)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	ctx, span := tracing.StartClientSpan(ctx, "api."+op, propagation.HeaderCarrier(req.Header))
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", endpoint),
		attribute.String("request.id", requestID),
	)
	req = req.WithContext(ctx)

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		monitoring.RemoteCalls.WithLabelValues(op, outcome).Inc()
		monitoring.RemoteCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		tracing.EndSpan(span, err)
	}()

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Debug("remote api error",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", requestID),
		)
		return fmt.Errorf("%w: %s %s returned %d: %s", util.ErrRemoteStatus, method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
