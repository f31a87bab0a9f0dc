// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SessionCookieName 是承载匿名会话 ID 的 Cookie 名称。
const SessionCookieName = "sid"

// SessionContextKey 是会话 ID 在 Gin 上下文中的键。
const SessionContextKey = "sessionID"

// Session 创建一个 Gin 中间件，为每个浏览器会话分配匿名会话 ID。
// 首次访问时签发 uuid Cookie，之后的请求（含 WebSocket 握手）复用同一 ID，
// 并将其存入 Gin 的上下文供后续处理函数读取。
func Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, err := c.Cookie(SessionCookieName)
		if err != nil || sid == "" {
			sid = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			// MaxAge 为 0：会话 Cookie，浏览器关闭即失效，与会话状态的生命周期一致
			c.SetCookie(SessionCookieName, sid, 0, "/", "", false, true)
		}
		c.Set(SessionContextKey, sid)
		c.Next()
	}
}

// SessionID 从 Gin 上下文中取出当前会话 ID。
func SessionID(c *gin.Context) string {
	return c.GetString(SessionContextKey)
}
