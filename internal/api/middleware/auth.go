package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/service"
	"github.com/d60-Lab/connectnow/pkg/response"
)

const (
	ctxUserKey  = "current_user"
	ctxTokenKey = "session_token"
)

// Auth 解析 Bearer token（或 SSE 使用的 access_token 查询参数），从会话槽取出当前用户
func Auth(sessions service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.Unauthorized(c, "missing token")
			return
		}
		user, err := sessions.Current(c.Request.Context(), token)
		if err != nil {
			response.Unauthorized(c, service.ErrSessionExpired.Error())
			return
		}
		c.Set(ctxUserKey, user)
		c.Set(ctxTokenKey, token)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
		return ""
	}
	return c.Query("access_token")
}

func CurrentUser(c *gin.Context) *model.User {
	if v, ok := c.Get(ctxUserKey); ok {
		if u, ok := v.(*model.User); ok {
			return u
		}
	}
	return nil
}

func SessionToken(c *gin.Context) string {
	return c.GetString(ctxTokenKey)
}
