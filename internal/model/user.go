package model

// User 服务端返回的用户信息
type User struct {
	ID               string `json:"id" binding:"required"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	TotalGamesPlayed int    `json:"totalGamesPlayed"`
	StreakCount      int    `json:"streakCount"`
}
