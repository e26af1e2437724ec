package util

// 持久化后端类型
const (
	BackendLocal    = "local"
	BackendMemory   = "memory"
	BackendDatabase = "database"
	BackendRedis    = "redis"
	BackendMinio    = "minio"
	BackendOSS      = "oss"
)

// 持久化键
const (
	KeyUserProgress = "userProgress"
	KeyGameScores   = "gameScores"
	KeyGameProgress = "gameProgress"
	KeyStore        = "stem-game-store"
)

// AuthCookieName 登出时清除的认证 cookie
const AuthCookieName = "authToken"

const MimeJSON = "application/json"
