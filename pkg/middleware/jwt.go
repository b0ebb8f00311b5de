package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin は学園祭運営メンバーを表すロール。
// 一括通知の送信や配信キューの操作など、運用系APIの実行に必要。
const RoleAdmin = "ADMIN"

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 認証基盤（本リポジトリのスコープ外）が発行したトークンから
// 呼び出しユーザーの情報を解決するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Name はユーザーの表示名。招待通知の文面に使用する。
	Name string `json:"name"`
	// Role はユーザーのロール（"USER" または "ADMIN"）。
	Role string `json:"role"`
}

// GenerateJWT はユーザー情報からJWTトークンを生成する。
// 認証基盤の発行するトークンと同じ形式で、主にテストとローカル開発で使用する。
func GenerateJWT(secret, userID, email, name, role string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "festify",
		},
		UserID: userID,
		Email:  email,
		Name:   name,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"・"email"・"name"・"role" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("name", claims.Name)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireAdmin は運営ロールを要求するGinミドルウェアを返す。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作には運営権限が必要です",
			})
			return
		}
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return getStringValue(c, "user_id")
}

// GetName はGinコンテキストからユーザーの表示名を取得する。
func GetName(c *gin.Context) string {
	return getStringValue(c, "name")
}

// GetRole はGinコンテキストからユーザーのロールを取得する。
func GetRole(c *gin.Context) string {
	return getStringValue(c, "role")
}

// getStringValue はGinコンテキストから文字列値を取得する。
func getStringValue(c *gin.Context, key string) string {
	value, _ := c.Get(key)
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}
