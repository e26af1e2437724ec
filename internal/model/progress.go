package model

import (
	"encoding/json"
	"math"
	"time"
)

const (
	// PointsPerLevel 每1000积分升一级
	PointsPerLevel = 1000
	// DefaultPointsPerQuestion 未提供满分时按每题15分估算
	DefaultPointsPerQuestion = 15
)

// LevelForPoints 等级完全由累计积分推导
func LevelForPoints(points int) int {
	if points < 0 {
		points = 0
	}
	return points/PointsPerLevel + 1
}

// UserProgress 用户整体进度。等级不单独存储。
type UserProgress struct {
	TotalPoints      int        `json:"totalPoints"`
	Badges           []string   `json:"badges"`
	CompletedModules []string   `json:"completedModules"`
	StreakDays       int        `json:"streakDays"`
	LastPlayDate     *time.Time `json:"lastPlayDate"`
}

func NewUserProgress() UserProgress {
	return UserProgress{
		Badges:           []string{},
		CompletedModules: []string{},
	}
}

func (p UserProgress) Level() int {
	return LevelForPoints(p.TotalPoints)
}

// MarshalJSON 输出时附带计算得到的 level，反序列化时忽略该字段
func (p UserProgress) MarshalJSON() ([]byte, error) {
	type progress UserProgress
	return json.Marshal(struct {
		progress
		Level int `json:"level"`
	}{progress(p), p.Level()})
}

func (p UserProgress) HasBadge(badge string) bool {
	return containsString(p.Badges, badge)
}

func (p UserProgress) HasModule(moduleID string) bool {
	return containsString(p.CompletedModules, moduleID)
}

// AddBadge 已存在时不做任何修改
func (p *UserProgress) AddBadge(badge string) bool {
	if p.HasBadge(badge) {
		return false
	}
	p.Badges = append(p.Badges, badge)
	return true
}

func (p *UserProgress) AddModule(moduleID string) bool {
	if p.HasModule(moduleID) {
		return false
	}
	p.CompletedModules = append(p.CompletedModules, moduleID)
	return true
}

// RecordPlay 更新连续学习天数：同一天不变，隔天+1，中断则重置为1
func (p *UserProgress) RecordPlay(now time.Time) {
	today := truncateDay(now)
	if p.LastPlayDate == nil {
		p.StreakDays = 1
	} else {
		last := truncateDay(*p.LastPlayDate)
		switch {
		case last.Equal(today):
			if p.StreakDays == 0 {
				p.StreakDays = 1
			}
		case last.AddDate(0, 0, 1).Equal(today):
			p.StreakDays++
		default:
			p.StreakDays = 1
		}
	}
	p.LastPlayDate = &now
}

func (p UserProgress) Clone() UserProgress {
	cp := p
	cp.Badges = append([]string{}, p.Badges...)
	cp.CompletedModules = append([]string{}, p.CompletedModules...)
	if p.LastPlayDate != nil {
		t := *p.LastPlayDate
		cp.LastPlayDate = &t
	}
	return cp
}

// normalize 修复旧数据中的 nil 切片与负数
func (p *UserProgress) normalize() {
	if p.Badges == nil {
		p.Badges = []string{}
	}
	if p.CompletedModules == nil {
		p.CompletedModules = []string{}
	}
	if p.TotalPoints < 0 {
		p.TotalPoints = 0
	}
	if p.StreakDays < 0 {
		p.StreakDays = 0
	}
}

// UnmarshalJSON 旧快照里可能带有 level 字段，这里直接丢弃
func (p *UserProgress) UnmarshalJSON(data []byte) error {
	type progress UserProgress
	var raw progress
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = UserProgress(raw)
	p.normalize()
	return nil
}

// GameProgressEntry 单个游戏最近一次的进度记录
type GameProgressEntry struct {
	Score              int       `json:"score"`
	MaxScore           int       `json:"maxScore"`
	QuestionsAttempted int       `json:"questionsAttempted"`
	TotalQuestions     int       `json:"totalQuestions"`
	TimeSpent          int       `json:"timeSpent"`
	Streak             int       `json:"streak"`
	Category           Category  `json:"category"`
	LastPlayed         time.Time `json:"lastPlayed"`
}

func (e GameProgressEntry) Completed() bool {
	return e.TotalQuestions > 0 && e.QuestionsAttempted >= e.TotalQuestions
}

// Accuracy 0-100，四舍五入
func (e GameProgressEntry) Accuracy() int {
	if e.MaxScore <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(e.Score) / float64(e.MaxScore)))
}

// Progress 已作答题目占比
func (e GameProgressEntry) Progress() int {
	if e.TotalQuestions <= 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(e.QuestionsAttempted) / float64(e.TotalQuestions)))
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (e GameProgressEntry) MarshalJSON() ([]byte, error) {
	type entry GameProgressEntry
	return json.Marshal(struct {
		entry
		Completed bool `json:"completed"`
		Accuracy  int  `json:"accuracy"`
	}{entry(e), e.Completed(), e.Accuracy()})
}

// GameScoreEntry 旧版最高分记录
type GameScoreEntry struct {
	Score    int       `json:"score"`
	Date     time.Time `json:"date"`
	Attempts int       `json:"attempts"`
}

// GameProgressSummary 页面读取用的进度概览，未玩过的游戏返回零值
type GameProgressSummary struct {
	Progress  int  `json:"progress"`
	Completed bool `json:"completed"`
	BestScore int  `json:"bestScore"`
	Accuracy  int  `json:"accuracy"`
	TimeSpent int  `json:"timeSpent"`
}

// CategoryStats 按学科汇总
type CategoryStats struct {
	GamesPlayed    int `json:"gamesPlayed"`
	GamesCompleted int `json:"gamesCompleted"`
	Points         int `json:"points"`
	TimeSpent      int `json:"timeSpent"`
}

// StoreSnapshot 整体持久化快照
type StoreSnapshot struct {
	UserProgress  *UserProgress                `json:"userProgress,omitempty"`
	GameScores    map[string]GameScoreEntry    `json:"gameScores,omitempty"`
	GameProgress  map[string]GameProgressEntry `json:"gameProgress,omitempty"`
	CurrentModule string                       `json:"currentModule"`
	EcoMode       bool                         `json:"ecoMode"`
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
