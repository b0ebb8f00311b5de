package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// 学園祭ポータルのフロントエンドからのAPIアクセスを許可するために使用する。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	originsSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := originsSet[origin]; ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			// Last-Event-IDはSSEクライアントが再接続時に送るヘッダー。
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, Last-Event-ID")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
