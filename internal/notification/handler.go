package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/festify/internal/stream"
	"github.com/nao1215/festify/pkg/event"
	"github.com/nao1215/festify/pkg/middleware"
	"github.com/nao1215/festify/pkg/ratelimit"
)

// Enqueuer は通知のプッシュ配信ジョブを配信キューに登録する。
// internal/queueのStoreが実装する。
type Enqueuer interface {
	Enqueue(ctx context.Context, userID, title, body, metadata string) error
}

// Handler は通知ストアのHTTPハンドラ。
type Handler struct {
	// store は通知テーブルへのクエリ実行オブジェクト。
	store *Store
	// registry はSSE接続レジストリ。通知作成時のライブ配信に使う。
	registry *stream.Registry
	// limiter は通知送信APIのレート制限。
	limiter *ratelimit.Limiter
	// queue はプッシュ配信ジョブの登録先。
	queue Enqueuer
}

// NewHandler は新しい通知ハンドラを生成する。
func NewHandler(store *Store, registry *stream.Registry, limiter *ratelimit.Limiter, queue Enqueuer) *Handler {
	return &Handler{
		store:    store,
		registry: registry,
		limiter:  limiter,
		queue:    queue,
	}
}

// RegisterRoutes は通知関連のルーティングを登録する。
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	notifications := api.Group("/notifications")
	{
		// 通知一覧取得
		notifications.GET("", h.handleList())
		// 未読通知一覧取得
		notifications.GET("/unread", h.handleListUnread())
		// 通知を既読にする
		notifications.PUT("/:id/read", h.handleMarkAsRead())
		// 全通知を既読にする
		notifications.PUT("/read-all", h.handleMarkAllAsRead())
		// 通知の一括削除（未読のチーム招待は残る）
		notifications.DELETE("", h.handleClear())
	}

	// 通知送信（内部API - 管理者のみ）
	internal := api.Group("/internal", middleware.RequireAdmin())
	{
		internal.POST("/notifications/send", h.handleSend())
		internal.POST("/notifications/bulk", h.handleBulk())
	}
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Type は通知の種類。
	Type string `json:"type"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Metadata は種類ごとの付随データ。
	Metadata json.RawMessage `json:"metadata"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toNotificationResponse はストアの通知をJSONレスポンスに変換する。
func toNotificationResponse(n *Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Metadata:  json.RawMessage(n.Metadata),
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
}

// toNotificationResponses は通知のスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []*Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := h.store.ListByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (h *Handler) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := h.store.ListUnread(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			log.Printf("未読通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 既に既読の通知に対しても成功を返す（冪等）。
func (h *Handler) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID := c.Param("id")
		if notificationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが必要です"})
			return
		}

		err := h.store.MarkAsRead(c.Request.Context(), notificationID, userID)
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		case errors.Is(err, ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			log.Printf("通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (h *Handler) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := h.store.MarkAllAsRead(c.Request.Context(), userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			log.Printf("全通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました"})
	}
}

// handleClear は認証済みユーザーの通知を一括削除するハンドラ。
// 応答待ちのチーム招待（未読のTEAM_INVITE通知）は削除されない。
func (h *Handler) handleClear() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		deleted, err := h.store.Clear(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の一括削除に失敗しました"})
			log.Printf("通知一括削除エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "通知を削除しました",
			"deleted": deleted,
		})
	}
}

// sendRequest は通知送信リクエストのJSON構造。
type sendRequest struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id" binding:"required"`
	// Type は通知の種類。省略時はGENERAL。
	Type string `json:"type"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// Metadata は種類ごとの付随データ（JSON形式）。
	Metadata json.RawMessage `json:"metadata"`
}

// bulkRequest は通知一括送信リクエストのJSON構造。
type bulkRequest struct {
	// UserIDs は通知先のユーザーIDのリスト。
	UserIDs []string `json:"user_ids" binding:"required,min=1"`
	// Type は通知の種類。省略時はGENERAL。
	Type string `json:"type"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// Metadata は種類ごとの付随データ（JSON形式）。
	Metadata json.RawMessage `json:"metadata"`
}

// resolveType はリクエストの通知種類を検証して返す。
func resolveType(raw string) (event.NotificationType, error) {
	if raw == "" {
		return event.TypeGeneral, nil
	}
	typ := event.NotificationType(raw)
	if !typ.Valid() {
		return "", fmt.Errorf("不明な通知種類です: %s", raw)
	}
	return typ, nil
}

// handleSend は通知を1件作成するハンドラ（内部API - 管理者のみ）。
// 作成した通知はプッシュ配信キューに登録され、SSEストリームにも配信される。
func (h *Handler) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		senderID := middleware.GetUserID(c)
		if senderID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		typ, err := resolveType(req.Type)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// 送信者単位のレート制限
		result := h.limiter.Check(c.Request.Context(), ratelimit.KindNotification, senderID)
		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":    "通知送信の回数制限を超えました",
				"reset_at": result.ResetAt.Format(time.RFC3339),
			})
			return
		}

		n, err := h.store.Create(c.Request.Context(), CreateParams{
			UserID:   req.UserID,
			Type:     typ,
			Title:    req.Title,
			Message:  req.Message,
			Metadata: string(req.Metadata),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			log.Printf("通知作成エラー: %v", err)
			return
		}

		delivered := h.deliver(c.Request.Context(), n)

		c.JSON(http.StatusCreated, gin.H{
			"id":        n.ID,
			"message":   "通知を送信しました",
			"delivered": delivered,
		})
	}
}

// handleBulk は複数ユーザーへ同内容の通知を一括作成するハンドラ（内部API - 管理者のみ）。
// 通知行の作成は単一トランザクションで行い、配信は1件ずつ独立して試みる。
func (h *Handler) handleBulk() gin.HandlerFunc {
	return func(c *gin.Context) {
		senderID := middleware.GetUserID(c)
		if senderID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req bulkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		typ, err := resolveType(req.Type)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result := h.limiter.Check(c.Request.Context(), ratelimit.KindBulkNotification, senderID)
		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":    "通知一括送信の回数制限を超えました",
				"reset_at": result.ResetAt.Format(time.RFC3339),
			})
			return
		}

		notifications, err := h.store.CreateMany(c.Request.Context(), req.UserIDs, CreateParams{
			Type:     typ,
			Title:    req.Title,
			Message:  req.Message,
			Metadata: string(req.Metadata),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の一括作成に失敗しました"})
			log.Printf("通知一括作成エラー: %v", err)
			return
		}

		delivered := 0
		for _, n := range notifications {
			delivered += h.deliver(c.Request.Context(), n)
		}

		c.JSON(http.StatusCreated, gin.H{
			"message":   "通知を一括送信しました",
			"created":   len(notifications),
			"delivered": delivered,
		})
	}
}

// deliver は作成済み通知のプッシュ配信ジョブ登録とSSEライブ配信を行い、
// SSEで配信できた接続数を返す。配信の失敗は通知作成の成否に影響させない。
func (h *Handler) deliver(ctx context.Context, n *Notification) int {
	if err := h.queue.Enqueue(ctx, n.UserID, n.Title, n.Message, n.Metadata); err != nil {
		// キュー登録に失敗してもログに記録し、通知自体は成功として扱う
		log.Printf("プッシュ配信ジョブの登録に失敗: %v", err)
	}

	ev, err := event.NewStreamEvent(event.StreamKindNotification, toNotificationResponse(n))
	if err != nil {
		log.Printf("ストリームイベントの生成に失敗: %v", err)
		return 0
	}
	return h.registry.Publish(n.UserID, ev)
}
