package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailaudit/backend/internal/auth/jwt"
	"mailaudit/backend/internal/service"
)

// ClaimsKey gin 上下文中保存令牌声明的键
const ClaimsKey = "claims"

// JWTAuth JWT认证中间件
type JWTAuth struct {
	jwtManager *jwt.Manager
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(jwtManager *jwt.Manager, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{
		jwtManager: jwtManager,
		log:        log,
	}
}

// RequireScope 要求携带包含指定权限的令牌
//
// 通过后把调用方写入请求上下文，查询历史以此记录发起人。
func (ja *JWTAuth) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abortJSON(c, http.StatusUnauthorized, "需要认证令牌")
			return
		}

		claims, err := ja.jwtManager.ValidateToken(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			msg := "无效的访问令牌"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "访问令牌已过期"
			}
			abortJSON(c, http.StatusUnauthorized, msg)
			return
		}

		if scope != "" && !claims.HasScope(scope) {
			ja.log.Warn("token missing scope",
				zap.String("subject", claims.Subject),
				zap.String("scope", scope),
			)
			abortJSON(c, http.StatusForbidden, "权限不足")
			return
		}

		c.Set(ClaimsKey, claims)
		c.Request = c.Request.WithContext(
			service.WithRequester(c.Request.Context(), claims.Subject, service.ChannelAPI),
		)

		c.Next()
	}
}

// ClaimsFrom 读取已验证的令牌声明
func ClaimsFrom(c *gin.Context) (*jwt.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok
}

// extractToken 从请求中提取JWT token
func extractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	// 2. 从 cookie 提取
	token, err := c.Cookie("access_token")
	if err == nil && token != "" {
		return token
	}

	// 3. WebSocket 握手无法自定义请求头，允许查询参数
	return c.Query("token")
}

func abortJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code": status,
		"msg":  msg,
	})
}
