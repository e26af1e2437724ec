package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"stem_progress_backend/internal/config"
	"stem_progress_backend/internal/model"
	"stem_progress_backend/internal/repository"
	"stem_progress_backend/internal/util"
	"stem_progress_backend/pkg/monitoring"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GameResult 一局游戏结束后页面上报的数据
type GameResult struct {
	GameID             string
	Score              int
	QuestionsAttempted int
	TotalQuestions     int
	TimeSpent          int
	Streak             int
	// MaxScore 为 0 时按 TotalQuestions * PointsPerQuestion 估算
	MaxScore int
}

// validate 默认满分按 TotalQuestions * pointsPerQuestion 计算，题数上限保证乘积不溢出
func (r GameResult) validate(pointsPerQuestion int) error {
	switch {
	case r.GameID == "":
		return fmt.Errorf("%w: game id is required", util.ErrInvalidGameResult)
	case r.TotalQuestions <= 0:
		return fmt.Errorf("%w: totalQuestions must be positive", util.ErrInvalidGameResult)
	case pointsPerQuestion > 0 && r.TotalQuestions > math.MaxInt/pointsPerQuestion:
		return fmt.Errorf("%w: totalQuestions %d is too large", util.ErrInvalidGameResult, r.TotalQuestions)
	case r.Score < 0, r.QuestionsAttempted < 0, r.TimeSpent < 0, r.Streak < 0, r.MaxScore < 0:
		return fmt.Errorf("%w: negative value", util.ErrInvalidGameResult)
	case r.MaxScore > 0 && r.Score > r.MaxScore:
		return fmt.Errorf("%w: score %d exceeds maxScore %d", util.ErrInvalidGameResult, r.Score, r.MaxScore)
	}
	return nil
}

// SyncResult 远端同步结果，本地提交不受其影响
type SyncResult struct {
	Attempted       bool                `json:"attempted"`
	Synced          bool                `json:"synced"`
	NewAchievements []model.Achievement `json:"newAchievements"`
	Error           string              `json:"error,omitempty"`
	Err             error               `json:"-"`
}

type ProgressUpdate struct {
	GameID      string                  `json:"gameId"`
	Entry       model.GameProgressEntry `json:"entry"`
	TotalPoints int                     `json:"totalPoints"`
	Level       int                     `json:"level"`
	Sync        SyncResult              `json:"sync"`
}

// HydrationReport 启动时各持久化 key 的加载情况
type HydrationReport struct {
	Loaded  []string `json:"loaded"`
	Missing []string `json:"missing"`
	Skipped []string `json:"skipped"`
}

// StoreState 对外只读快照，所有集合均为拷贝
type StoreState struct {
	User            *model.User                        `json:"user"`
	IsAuthenticated bool                               `json:"isAuthenticated"`
	UserProgress    model.UserProgress                 `json:"userProgress"`
	GameProgress    map[string]model.GameProgressEntry `json:"gameProgress"`
	GameScores      map[string]model.GameScoreEntry    `json:"gameScores"`
	Achievements    []model.Achievement                `json:"achievements"`
	Leaderboard     []model.PlayerRank                 `json:"leaderboard"`
	CurrentModule   string                             `json:"currentModule"`
	EcoMode         bool                               `json:"ecoMode"`
	IsLoading       bool                               `json:"isLoading"`
	Error           string                             `json:"error,omitempty"`
}

var persistedKeys = []string{util.KeyUserProgress, util.KeyGameScores, util.KeyGameProgress, util.KeyStore}

// ProgressStore 用户游戏化状态的唯一来源：本地持久化 + 登录后与远端同步
type ProgressStore struct {
	mu  sync.RWMutex
	kv  repository.KVRepository
	api ProgressAPI
	cfg config.StoreConfig
	log *zap.Logger
	now func() time.Time

	user          *model.User
	token         string
	userProgress  model.UserProgress
	gameScores    map[string]model.GameScoreEntry
	gameProgress  map[string]model.GameProgressEntry
	achievements  []model.Achievement
	leaderboard   []model.PlayerRank
	currentModule string
	ecoMode       bool
	lastError     string
	inflight      int
}

func NewProgressStore(kv repository.KVRepository, api ProgressAPI, cfg *config.StoreConfig, log *zap.Logger) *ProgressStore {
	storeCfg := config.StoreConfig{
		PointsPerQuestion: model.DefaultPointsPerQuestion,
		PointsPerGame:     10,
	}
	if cfg != nil {
		storeCfg = *cfg
		if storeCfg.PointsPerQuestion <= 0 {
			storeCfg.PointsPerQuestion = model.DefaultPointsPerQuestion
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ProgressStore{
		kv:           kv,
		api:          api,
		cfg:          storeCfg,
		log:          log,
		now:          time.Now,
		userProgress: model.NewUserProgress(),
		gameScores:   make(map[string]model.GameScoreEntry),
		gameProgress: make(map[string]model.GameProgressEntry),
		achievements: []model.Achievement{},
		leaderboard:  []model.PlayerRank{},
	}
}

// SetUser 设置登录用户，初始积分与连续天数取自服务端统计并落盘
func (s *ProgressStore) SetUser(ctx context.Context, user *model.User, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user == nil {
		s.user = nil
		s.token = ""
		return
	}
	u := *user
	s.user = &u
	s.token = token
	s.userProgress.TotalPoints = u.TotalGamesPlayed * s.cfg.PointsPerGame
	s.userProgress.StreakDays = u.StreakCount
	s.persistLocked(ctx, util.KeyUserProgress)
	s.log.Info("user session installed", zap.String("user_id", u.ID))
}

// Logout 清除身份与派生计数并落盘，本地游戏进度保留
func (s *ProgressStore) Logout(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user != nil {
		s.log.Info("user logged out", zap.String("user_id", s.user.ID))
	}
	s.user = nil
	s.token = ""
	s.userProgress.TotalPoints = 0
	s.userProgress.StreakDays = 0
	s.userProgress.LastPlayDate = nil
	s.achievements = []model.Achievement{}
	s.leaderboard = []model.PlayerRank{}
	s.lastError = ""
	s.persistLocked(ctx, util.KeyUserProgress)
}

func (s *ProgressStore) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// UpdateGameProgress 先本地提交，登录状态下再尝试同步远端。
// 远端失败只体现在 SyncResult 中，本地结果与成功时完全一致。
func (s *ProgressStore) UpdateGameProgress(ctx context.Context, res GameResult) (*ProgressUpdate, error) {
	if err := res.validate(s.cfg.PointsPerQuestion); err != nil {
		return nil, err
	}

	update, submission, session := s.commitLocal(ctx, res)
	if session == nil {
		monitoring.ProgressUpdates.WithLabelValues(string(update.Entry.Category), "local").Inc()
		return update, nil
	}

	update.Sync.Attempted = true
	submission.UserID = session.user.ID

	s.beginRemote()
	defer s.endRemote()

	result, err := s.api.SubmitProgress(ctx, session.token, submission)
	if err != nil {
		s.recordRemoteError("submit progress", err)
		update.Sync.Err = err
		update.Sync.Error = err.Error()
		monitoring.ProgressUpdates.WithLabelValues(string(update.Entry.Category), "fallback").Inc()
		return update, nil
	}

	update.Sync.Synced = true
	update.Sync.NewAchievements = result.NewAchievements
	if added := s.mergeAchievements(session.user.ID, result.NewAchievements); added > 0 {
		s.log.Info("achievements unlocked",
			zap.String("user_id", session.user.ID),
			zap.String("game_id", res.GameID),
			zap.Int("count", added),
		)
	}
	monitoring.ProgressUpdates.WithLabelValues(string(update.Entry.Category), "synced").Inc()
	return update, nil
}

// UpdateLocalGameProgress 只做本地提交，不访问网络
func (s *ProgressStore) UpdateLocalGameProgress(ctx context.Context, res GameResult) (*ProgressUpdate, error) {
	if err := res.validate(s.cfg.PointsPerQuestion); err != nil {
		return nil, err
	}
	update, _, _ := s.commitLocal(ctx, res)
	monitoring.ProgressUpdates.WithLabelValues(string(update.Entry.Category), "local").Inc()
	return update, nil
}

type session struct {
	user  model.User
	token string
}

func (s *ProgressStore) commitLocal(ctx context.Context, res GameResult) (*ProgressUpdate, ProgressSubmission, *session) {
	category := model.CategoryForGame(res.GameID)
	maxScore := res.MaxScore
	if maxScore == 0 {
		maxScore = res.TotalQuestions * s.cfg.PointsPerQuestion
	}
	now := s.now()

	entry := model.GameProgressEntry{
		Score:              res.Score,
		MaxScore:           maxScore,
		QuestionsAttempted: res.QuestionsAttempted,
		TotalQuestions:     res.TotalQuestions,
		TimeSpent:          res.TimeSpent,
		Streak:             res.Streak,
		Category:           category,
		LastPlayed:         now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gameProgress[res.GameID] = entry
	s.userProgress.TotalPoints += res.Score
	s.userProgress.RecordPlay(now)
	s.persistLocked(ctx, util.KeyGameProgress, util.KeyUserProgress)
	monitoring.PointsAwarded.WithLabelValues("game").Add(float64(res.Score))

	update := &ProgressUpdate{
		GameID:      res.GameID,
		Entry:       entry,
		TotalPoints: s.userProgress.TotalPoints,
		Level:       s.userProgress.Level(),
		Sync:        SyncResult{NewAchievements: []model.Achievement{}},
	}
	submission := ProgressSubmission{
		GameID:             res.GameID,
		Category:           category,
		Score:              res.Score,
		MaxScore:           maxScore,
		QuestionsAttempted: res.QuestionsAttempted,
		TotalQuestions:     res.TotalQuestions,
		TimeSpent:          res.TimeSpent,
		Streak:             res.Streak,
	}

	if s.user == nil {
		return update, submission, nil
	}
	return update, submission, &session{user: *s.user, token: s.token}
}

// mergeAchievements 追加新成就，按 id 去重；期间已切换用户则丢弃
func (s *ProgressStore) mergeAchievements(userID string, list []model.Achievement) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil || s.user.ID != userID {
		return 0
	}
	seen := make(map[string]bool, len(s.achievements))
	for _, a := range s.achievements {
		if id := a.ID(); id != "" {
			seen[id] = true
		}
	}
	added := 0
	for _, a := range list {
		id := a.ID()
		if id != "" && seen[id] {
			continue
		}
		if id != "" {
			seen[id] = true
		}
		s.achievements = append(s.achievements, a)
		added++
	}
	return added
}

// FetchAchievements 未登录时直接返回；成功后以远端数据整体覆盖成就与总积分
func (s *ProgressStore) FetchAchievements(ctx context.Context) error {
	sess := s.currentSession()
	if sess == nil {
		return nil
	}

	s.beginRemote()
	defer s.endRemote()

	res, err := s.api.GetAchievements(ctx, sess.token, sess.user.ID)
	if err != nil {
		s.recordRemoteError("fetch achievements", err)
		return fmt.Errorf("fetch achievements: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil || s.user.ID != sess.user.ID {
		return nil
	}
	s.achievements = res.Achievements
	s.userProgress.TotalPoints = res.TotalPoints
	s.persistLocked(ctx, util.KeyUserProgress)
	return nil
}

// FetchLeaderboard 刷新排行榜缓存并返回远端原始响应
func (s *ProgressStore) FetchLeaderboard(ctx context.Context, category, period string) (model.LeaderboardResponse, error) {
	query := LeaderboardQuery{Category: category, Period: period}
	var token string
	if sess := s.currentSession(); sess != nil {
		query.UserID = sess.user.ID
		token = sess.token
	}

	s.beginRemote()
	defer s.endRemote()

	raw, err := s.api.GetLeaderboard(ctx, token, query)
	if err != nil {
		s.recordRemoteError("fetch leaderboard", err)
		return nil, fmt.Errorf("fetch leaderboard: %w", err)
	}
	players, err := raw.TopPlayers()
	if err != nil {
		s.recordRemoteError("decode leaderboard", err)
		return nil, fmt.Errorf("decode leaderboard: %w", err)
	}

	s.mu.Lock()
	s.leaderboard = players
	s.mu.Unlock()
	return raw, nil
}

// Refresh 并发拉取成就与排行榜，返回第一个错误
func (s *ProgressStore) Refresh(ctx context.Context, category, period string) (model.LeaderboardResponse, error) {
	var board model.LeaderboardResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.FetchAchievements(gctx)
	})
	g.Go(func() error {
		raw, err := s.FetchLeaderboard(gctx, category, period)
		board = raw
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return board, nil
}

// AddPoints 旧接口：直接加分
func (s *ProgressStore) AddPoints(ctx context.Context, points int) (int, error) {
	if points < 0 {
		return 0, util.ErrInvalidPoints
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userProgress.TotalPoints += points
	s.persistLocked(ctx, util.KeyUserProgress)
	monitoring.PointsAwarded.WithLabelValues("bonus").Add(float64(points))
	return s.userProgress.TotalPoints, nil
}

// AddBadge 重复添加为空操作，返回是否新增
func (s *ProgressStore) AddBadge(ctx context.Context, badge string) (bool, error) {
	if badge == "" {
		return false, errors.New("badge is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.userProgress.AddBadge(badge) {
		return false, nil
	}
	s.persistLocked(ctx, util.KeyUserProgress)
	return true, nil
}

func (s *ProgressStore) CompleteModule(ctx context.Context, moduleID string) (bool, error) {
	if moduleID == "" {
		return false, errors.New("module id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.userProgress.AddModule(moduleID) {
		return false, nil
	}
	s.persistLocked(ctx, util.KeyUserProgress)
	return true, nil
}

// UpdateGameScore 旧版最高分记录，无论是否刷新最高分都累加尝试次数
func (s *ProgressStore) UpdateGameScore(ctx context.Context, gameID string, score int) (model.GameScoreEntry, error) {
	if gameID == "" || score < 0 {
		return model.GameScoreEntry{}, fmt.Errorf("%w: game id and non-negative score required", util.ErrInvalidGameResult)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, seen := s.gameScores[gameID]
	entry.Attempts++
	if !seen || score > entry.Score {
		entry.Score = score
		entry.Date = s.now()
	}
	s.gameScores[gameID] = entry
	s.persistLocked(ctx, util.KeyGameScores)
	return entry, nil
}

func (s *ProgressStore) SetCurrentModule(ctx context.Context, moduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentModule = moduleID
	s.persistLocked(ctx)
}

func (s *ProgressStore) ToggleEcoMode(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ecoMode = !s.ecoMode
	s.persistLocked(ctx)
	return s.ecoMode
}

// GetGameProgress 未玩过的游戏返回全零概览
func (s *ProgressStore) GetGameProgress(gameID string) model.GameProgressSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary model.GameProgressSummary
	if entry, ok := s.gameProgress[gameID]; ok {
		summary = model.GameProgressSummary{
			Progress:  entry.Progress(),
			Completed: entry.Completed(),
			BestScore: entry.Score,
			Accuracy:  entry.Accuracy(),
			TimeSpent: entry.TimeSpent,
		}
	}
	if score, ok := s.gameScores[gameID]; ok && score.Score > summary.BestScore {
		summary.BestScore = score.Score
	}
	return summary
}

// CategorySummary 按学科汇总进度，四个固定学科总是存在
func (s *ProgressStore) CategorySummary() map[model.Category]model.CategoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.Category]model.CategoryStats, len(model.Categories)+1)
	for _, c := range model.Categories {
		out[c] = model.CategoryStats{}
	}
	for gameID, entry := range s.gameProgress {
		category := entry.Category
		if category == "" {
			category = model.CategoryForGame(gameID)
		}
		stats := out[category]
		stats.GamesPlayed++
		if entry.Completed() {
			stats.GamesCompleted++
		}
		stats.Points += entry.Score
		stats.TimeSpent += entry.TimeSpent
		out[category] = stats
	}
	return out
}

func (s *ProgressStore) State() StoreState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := StoreState{
		IsAuthenticated: s.user != nil,
		UserProgress:    s.userProgress.Clone(),
		GameProgress:    make(map[string]model.GameProgressEntry, len(s.gameProgress)),
		GameScores:      make(map[string]model.GameScoreEntry, len(s.gameScores)),
		Achievements:    model.CloneAchievements(s.achievements),
		Leaderboard:     append([]model.PlayerRank{}, s.leaderboard...),
		CurrentModule:   s.currentModule,
		EcoMode:         s.ecoMode,
		IsLoading:       s.inflight > 0,
		Error:           s.lastError,
	}
	if s.user != nil {
		u := *s.user
		state.User = &u
	}
	for k, v := range s.gameProgress {
		state.GameProgress[k] = v
	}
	for k, v := range s.gameScores {
		state.GameScores[k] = v
	}
	return state
}

// InitializeGameData 启动时从持久化存储恢复；单个 key 损坏只跳过该 key
func (s *ProgressStore) InitializeGameData(ctx context.Context) HydrationReport {
	report := HydrationReport{Loaded: []string{}, Missing: []string{}, Skipped: []string{}}

	var (
		userProgress *model.UserProgress
		gameScores   map[string]model.GameScoreEntry
		gameProgress map[string]model.GameProgressEntry
		snapshot     *model.StoreSnapshot
	)
	absent := make(map[string]bool)

	load := func(key string, dst interface{}) bool {
		data, err := s.kv.Get(ctx, key)
		if errors.Is(err, util.ErrKeyNotFound) {
			report.Missing = append(report.Missing, key)
			absent[key] = true
			return false
		}
		if err == nil {
			err = json.Unmarshal(data, dst)
		}
		if err != nil {
			s.log.Warn("skipping persisted key", zap.String("key", key), zap.Error(err))
			report.Skipped = append(report.Skipped, key)
			return false
		}
		report.Loaded = append(report.Loaded, key)
		return true
	}

	var up model.UserProgress
	if load(util.KeyUserProgress, &up) {
		userProgress = &up
	}
	var scores map[string]model.GameScoreEntry
	if load(util.KeyGameScores, &scores) {
		gameScores = scores
	}
	var progress map[string]model.GameProgressEntry
	if load(util.KeyGameProgress, &progress) {
		gameProgress = progress
	}
	var snap model.StoreSnapshot
	if load(util.KeyStore, &snap) {
		snapshot = &snap
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 单独的 key 缺失时才用整体快照里的副本补齐
	if snapshot != nil {
		s.currentModule = snapshot.CurrentModule
		s.ecoMode = snapshot.EcoMode
		if userProgress == nil && absent[util.KeyUserProgress] && snapshot.UserProgress != nil {
			userProgress = snapshot.UserProgress
		}
		if gameScores == nil && absent[util.KeyGameScores] && snapshot.GameScores != nil {
			gameScores = snapshot.GameScores
		}
		if gameProgress == nil && absent[util.KeyGameProgress] && snapshot.GameProgress != nil {
			gameProgress = snapshot.GameProgress
		}
	}
	if userProgress != nil {
		s.userProgress = *userProgress
	}
	if gameScores != nil {
		s.gameScores = gameScores
	}
	if gameProgress != nil {
		s.gameProgress = gameProgress
	}

	s.log.Info("game data hydrated",
		zap.Strings("loaded", report.Loaded),
		zap.Strings("missing", report.Missing),
		zap.Strings("skipped", report.Skipped),
	)
	return report
}

// ResetGameData 清空进度、分数、当前模块与成就，并删除持久化数据；登录状态不变
func (s *ProgressStore) ResetGameData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gameProgress = make(map[string]model.GameProgressEntry)
	s.gameScores = make(map[string]model.GameScoreEntry)
	s.userProgress = model.NewUserProgress()
	s.currentModule = ""
	s.achievements = []model.Achievement{}

	if err := s.kv.Delete(ctx, persistedKeys...); err != nil {
		s.log.Error("failed to clear persisted game data", zap.Error(err))
		return fmt.Errorf("clear persisted game data: %w", err)
	}
	// 快照重写为空进度，保留 ecoMode
	s.persistLocked(ctx)
	s.log.Info("game data reset")
	return nil
}

// persistLocked 写入指定 key 以及整体快照，调用方需持有写锁。写失败只记录日志。
func (s *ProgressStore) persistLocked(ctx context.Context, keys ...string) {
	values := make(map[string]interface{}, len(keys)+1)
	for _, k := range keys {
		switch k {
		case util.KeyUserProgress:
			values[k] = s.userProgress
		case util.KeyGameScores:
			values[k] = s.gameScores
		case util.KeyGameProgress:
			values[k] = s.gameProgress
		}
	}
	up := s.userProgress
	values[util.KeyStore] = model.StoreSnapshot{
		UserProgress:  &up,
		GameScores:    s.gameScores,
		GameProgress:  s.gameProgress,
		CurrentModule: s.currentModule,
		EcoMode:       s.ecoMode,
	}

	for _, k := range append(keys, util.KeyStore) {
		v, ok := values[k]
		if !ok {
			continue
		}
		data, err := json.Marshal(v)
		if err == nil {
			err = s.kv.Set(ctx, k, data)
		}
		if err != nil {
			monitoring.PersistFailures.WithLabelValues(k).Inc()
			s.log.Warn("failed to persist store slice", zap.String("key", k), zap.Error(err))
		}
	}
}

func (s *ProgressStore) currentSession() *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	return &session{user: *s.user, token: s.token}
}

// beginRemote 每个远端调用独立计数，isLoading 不会被其他调用提前清除
func (s *ProgressStore) beginRemote() {
	s.mu.Lock()
	s.inflight++
	s.lastError = ""
	s.mu.Unlock()
}

func (s *ProgressStore) endRemote() {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
}

func (s *ProgressStore) recordRemoteError(op string, err error) {
	s.mu.Lock()
	s.lastError = fmt.Sprintf("%s: %v", op, err)
	s.mu.Unlock()
	s.log.Warn("remote sync failed", zap.String("operation", op), zap.Error(err))
}
