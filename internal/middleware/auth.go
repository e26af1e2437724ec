package middleware

import (
	"stem_progress_backend/internal/util"
	"stem_progress_backend/pkg/logger"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// extractToken 依次从 Authorization 头、authToken cookie、token 查询参数中获取
func extractToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")); token != "" {
			return token
		}
	}
	if cookie, err := c.Cookie(util.AuthCookieName); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// TryAuthMiddleware 可选认证：有 token 时放入上下文。
// 配置了 secret 时校验签名，校验失败直接 401；未配置时原样透传给远端服务校验。
func TryAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.Next()
			return
		}

		if secret != "" {
			claims, err := util.ParseJWT(tokenString, secret)
			if err != nil {
				logger.Log.Debug("rejecting session token", zap.Error(err))
				util.Unauthorized(c)
				c.Abort()
				return
			}
			c.Set("claims", claims)
		}

		c.Set("token", tokenString)
		c.Next()
	}
}

// AuthMiddleware 强制认证，必须放在 TryAuthMiddleware 之后
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if util.GetTokenFromContext(c) == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}
		c.Next()
	}
}
