package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// TestGenerateJWT はGenerateJWT関数を検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("正常にJWTトークンを生成できること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-123", "test@example.com", "山田太郎", "USER")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}
		if tokenStr == "" {
			t.Fatal("GenerateJWT()が空文字列を返した")
		}

		// トークンをパースして検証する
		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
			return []byte(testSecret), nil
		})
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if !token.Valid {
			t.Fatal("トークンが無効")
		}

		if claims.UserID != "user-123" {
			t.Errorf("UserID = %q, want %q", claims.UserID, "user-123")
		}
		if claims.Email != "test@example.com" {
			t.Errorf("Email = %q, want %q", claims.Email, "test@example.com")
		}
		if claims.Name != "山田太郎" {
			t.Errorf("Name = %q, want %q", claims.Name, "山田太郎")
		}
		if claims.Role != "USER" {
			t.Errorf("Role = %q, want %q", claims.Role, "USER")
		}
		if claims.Issuer != "festify" {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, "festify")
		}
	})

	t.Run("トークンの有効期限が24時間後であること", func(t *testing.T) {
		t.Parallel()

		before := time.Now().Add(24 * time.Hour)
		tokenStr, err := GenerateJWT(testSecret, "user-123", "test@example.com", "山田太郎", "USER")
		after := time.Now().Add(24 * time.Hour)

		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims := &JWTClaims{}
		if _, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
			return []byte(testSecret), nil
		}); err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}

		expiresAt := claims.ExpiresAt.Time
		if expiresAt.Before(before.Add(-time.Minute)) || expiresAt.After(after.Add(time.Minute)) {
			t.Errorf("ExpiresAt = %v, 期待する範囲: [%v, %v]", expiresAt, before, after)
		}
	})
}

// setupAuthRouter はJWTAuthミドルウェアを適用したテスト用ルーターを構築する。
func setupAuthRouter() *gin.Engine {
	router := gin.New()
	router.Use(JWTAuth(testSecret))
	router.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": GetUserID(c),
			"name":    GetName(c),
			"role":    GetRole(c),
		})
	})
	return router
}

// TestJWTAuth はJWTAuthミドルウェアを検証する。
func TestJWTAuth(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンでリクエストが通過すること", func(t *testing.T) {
		t.Parallel()

		router := setupAuthRouter()

		tokenStr, err := GenerateJWT(testSecret, "user-123", "test@example.com", "山田太郎", "ADMIN")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		var result map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのデコードに失敗: %v", err)
		}
		if result["user_id"] != "user-123" {
			t.Errorf("user_id = %q, want %q", result["user_id"], "user-123")
		}
		if result["name"] != "山田太郎" {
			t.Errorf("name = %q, want %q", result["name"], "山田太郎")
		}
		if result["role"] != "ADMIN" {
			t.Errorf("role = %q, want %q", result["role"], "ADMIN")
		}
	})

	t.Run("Authorizationヘッダーがない場合はUnauthorized", func(t *testing.T) {
		t.Parallel()

		router := setupAuthRouter()

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("Bearer形式でない場合はUnauthorized", func(t *testing.T) {
		t.Parallel()

		router := setupAuthRouter()

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("署名が不正なトークンはUnauthorized", func(t *testing.T) {
		t.Parallel()

		router := setupAuthRouter()

		tokenStr, err := GenerateJWT("wrong-secret", "user-123", "test@example.com", "山田太郎", "USER")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestRequireAdmin はRequireAdminミドルウェアを検証する。
func TestRequireAdmin(t *testing.T) {
	t.Parallel()

	// setupAdminRouter はロールを直接設定するテスト用ルーターを構築する。
	setupAdminRouter := func(role string) *gin.Engine {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			c.Set("role", role)
			c.Next()
		})
		router.Use(RequireAdmin())
		router.POST("/admin", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		return router
	}

	t.Run("ADMINロールはリクエストが通過すること", func(t *testing.T) {
		t.Parallel()

		router := setupAdminRouter(RoleAdmin)

		req := httptest.NewRequest(http.MethodPost, "/admin", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("USERロールはForbidden", func(t *testing.T) {
		t.Parallel()

		router := setupAdminRouter("USER")

		req := httptest.NewRequest(http.MethodPost, "/admin", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("ロール未設定はForbidden", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RequireAdmin())
		router.POST("/admin", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		req := httptest.NewRequest(http.MethodPost, "/admin", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}
