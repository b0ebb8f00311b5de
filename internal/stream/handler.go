package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/nao1215/festify/pkg/event"
	"github.com/nao1215/festify/pkg/middleware"
	"github.com/nao1215/festify/pkg/ratelimit"
)

// heartbeatInterval はSSE接続のハートビート送信間隔。
// 中間プロキシによるアイドル切断を防ぐ。
const heartbeatInterval = 30 * time.Second

// Handler はSSEストリームエンドポイントのHTTPハンドラ。
type Handler struct {
	// registry はストリーム接続のレジストリ。
	registry *Registry
	// limiter はストリーム接続開始のレートリミッタ。
	limiter *ratelimit.Limiter
}

// NewHandler は新しいストリームハンドラを生成する。
func NewHandler(registry *Registry, limiter *ratelimit.Limiter) *Handler {
	return &Handler{
		registry: registry,
		limiter:  limiter,
	}
}

// RegisterRoutes はストリーム関連のAPIルーティングを登録する。
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	// リアルタイム通知のSSEストリームを開く
	api.GET("/notifications/stream", h.handleStream())
}

// handleStream はSSEストリームを開くハンドラ。
// 認証済みユーザーのハンドルをレジストリに登録し、接続確立イベントを
// 即座に送信したあと、クライアントが切断するまでイベントを流し続ける。
func (h *Handler) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		result := h.limiter.Check(c.Request.Context(), ratelimit.KindStreamConnect, userID)
		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":    "接続試行が多すぎます。しばらく待ってから再接続してください",
				"reset_at": result.ResetAt.Format(time.RFC3339),
			})
			return
		}

		handle := h.registry.Open(userID)
		defer h.registry.Close(handle)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		// 接続確立イベントを即座に送信してクライアントに疎通を伝える
		connected, err := event.NewStreamEvent(event.StreamKindConnected, nil)
		if err != nil {
			log.Printf("[Stream] 接続確立イベントの生成に失敗: %v", err)
			return
		}
		if err := writeStreamEvent(c, connected); err != nil {
			log.Printf("[Stream] 接続確立イベントの送信に失敗: user_id=%s, error=%v", userID, err)
			return
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-c.Request.Context().Done():
				// クライアント切断。deferでハンドルがレジストリから解放される
				return
			case ev, ok := <-handle.Events():
				if !ok {
					// 接続数上限による切断等でハンドルが閉じられた
					return
				}
				if err := sse.Encode(c.Writer, ev); err != nil {
					log.Printf("[Stream] イベントの書き込みに失敗: user_id=%s, error=%v", userID, err)
					return
				}
				c.Writer.Flush()
			case <-heartbeat.C:
				if err := sse.Encode(c.Writer, sse.Event{Event: "ping", Data: "{}"}); err != nil {
					return
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeStreamEvent はストリームイベントをSSE形式で書き込んでフラッシュする。
func writeStreamEvent(c *gin.Context, ev *event.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := sse.Encode(c.Writer, sse.Event{Event: string(ev.Kind), Data: string(payload)}); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
