package model

import (
	"encoding/json"
	"fmt"
)

// Achievement 由远端服务授予，本地只保存不解析规则
type Achievement map[string]interface{}

// ID 兼容 id / _id / achievementId 三种写法
func (a Achievement) ID() string {
	for _, k := range []string{"id", "_id", "achievementId"} {
		if v, ok := a[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func (a Achievement) Name() string {
	if v, ok := a["name"].(string); ok {
		return v
	}
	return ""
}

func CloneAchievements(list []Achievement) []Achievement {
	out := make([]Achievement, len(list))
	for i, a := range list {
		cp := make(Achievement, len(a))
		for k, v := range a {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// PlayerRank 排行榜条目，字段由远端决定
type PlayerRank map[string]interface{}

// LeaderboardResponse 远端排行榜原始响应，除 topPlayers 外的字段原样透传
type LeaderboardResponse map[string]json.RawMessage

// TopPlayers 解析 topPlayers 字段
func (r LeaderboardResponse) TopPlayers() ([]PlayerRank, error) {
	raw, ok := r["topPlayers"]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return []PlayerRank{}, nil
	}
	var players []PlayerRank
	if err := json.Unmarshal(raw, &players); err != nil {
		return nil, err
	}
	return players, nil
}
