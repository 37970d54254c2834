package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerUserID   = "X-User-ID"
	headerUserName = "X-User-Name"

	// browserCookie 不设过期时间，浏览器关闭即失效
	browserCookie = "kai_session"

	ctxUser    = "user"
	ctxBrowser = "browserID"

	anonymousUser = "anonymous"
)

// User 上游身份服务注入的当前用户
type User struct {
	ID   string
	Name string
}

// identityMiddleware 从请求头读取用户，没有时视为匿名
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := User{
			ID:   strings.TrimSpace(c.GetHeader(headerUserID)),
			Name: strings.TrimSpace(c.GetHeader(headerUserName)),
		}
		if u.ID == "" {
			u.ID = anonymousUser
		}
		if u.Name == "" {
			u.Name = "User"
		}
		c.Set(ctxUser, u)
		c.Next()
	}
}

// browserSessionMiddleware 为每个浏览器会话分配一个 ID，最近会话列表按它归档
func browserSessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(browserCookie)
		if err != nil || id == "" {
			id = uuid.NewString()
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     browserCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(ctxBrowser, id)
		c.Next()
	}
}

func currentUser(c *gin.Context) User {
	if v, ok := c.Get(ctxUser); ok {
		if u, ok := v.(User); ok {
			return u
		}
	}
	return User{ID: anonymousUser, Name: "User"}
}

func browserID(c *gin.Context) string {
	return c.GetString(ctxBrowser)
}
