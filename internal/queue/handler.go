package queue

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/festify/pkg/middleware"
)

// Handler は配信キューとデバイス購読のHTTPハンドラ。
type Handler struct {
	// store は配信キューのクエリ実行オブジェクト。
	store *Store
	// worker は配信ワーカー。手動トリガーに使う。
	worker *Worker
}

// NewHandler は新しい配信キューハンドラを生成する。
func NewHandler(store *Store, worker *Worker) *Handler {
	return &Handler{store: store, worker: worker}
}

// RegisterRoutes は配信キュー関連のルーティングを登録する。
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	push := api.Group("/push")
	{
		// デバイストークンの登録
		push.POST("/subscribe", h.handleSubscribe())
		// デバイストークンの登録解除
		push.DELETE("/subscribe", h.handleUnsubscribe())
	}

	// キューの状況確認と手動処理（内部API - 管理者のみ）
	internal := api.Group("/internal", middleware.RequireAdmin())
	{
		internal.GET("/queue", h.handleListQueue())
		internal.POST("/queue/process", h.handleProcessQueue())
	}
}

// subscribeRequest はデバイストークン登録リクエストのJSON構造。
type subscribeRequest struct {
	// DeviceToken はプッシュ通知の宛先となるデバイストークン。
	DeviceToken string `json:"device_token" binding:"required"`
}

// handleSubscribe は認証済みユーザーのデバイストークンを登録するハンドラ。
func (h *Handler) handleSubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req subscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := h.store.Subscribe(c.Request.Context(), userID, req.DeviceToken); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "デバイスの登録に失敗しました"})
			log.Printf("デバイス登録エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": "デバイスを登録しました"})
	}
}

// handleUnsubscribe は認証済みユーザーのデバイストークンの登録を解除するハンドラ。
func (h *Handler) handleUnsubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req subscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		deleted, err := h.store.Unsubscribe(c.Request.Context(), userID, req.DeviceToken)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "デバイスの登録解除に失敗しました"})
			log.Printf("デバイス登録解除エラー: %v", err)
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "登録されたデバイスが見つかりません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "デバイスの登録を解除しました"})
	}
}

// queueItemResponse は配信ジョブのJSONレスポンス構造。
type queueItemResponse struct {
	// ID はジョブの一意識別子。
	ID string `json:"id"`
	// UserID は配信先のユーザーID。
	UserID string `json:"user_id"`
	// Title はプッシュ通知のタイトル。
	Title string `json:"title"`
	// Status はジョブの状態。
	Status string `json:"status"`
	// Attempts は送信試行回数。
	Attempts int `json:"attempts"`
	// LastError は直近の送信失敗理由。
	LastError string `json:"last_error"`
	// CreatedAt はジョブの作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// handleListQueue は未送信ジョブの一覧を返すハンドラ（内部API - 管理者のみ）。
func (h *Handler) handleListQueue() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := h.store.ListUnsent(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "配信ジョブ一覧の取得に失敗しました"})
			log.Printf("配信ジョブ一覧取得エラー: %v", err)
			return
		}

		responses := make([]queueItemResponse, 0, len(items))
		for _, item := range items {
			responses = append(responses, queueItemResponse{
				ID:        item.ID,
				UserID:    item.UserID,
				Title:     item.Title,
				Status:    item.Status,
				Attempts:  item.Attempts,
				LastError: item.LastError,
				CreatedAt: item.CreatedAt.Format(time.RFC3339),
			})
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleProcessQueue はキュー処理を手動でトリガーするハンドラ（内部API - 管理者のみ）。
// 前回の処理から最小間隔が経過していない場合は拒否される。
func (h *Handler) handleProcessQueue() gin.HandlerFunc {
	return func(c *gin.Context) {
		sent, err := h.worker.TriggerProcess(c.Request.Context())
		if errors.Is(err, ErrTooSoon) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "キュー処理は実行されたばかりです。時間をおいて再試行してください"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キュー処理に失敗しました"})
			log.Printf("キュー処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "キューを処理しました",
			"sent":    sent,
		})
	}
}
