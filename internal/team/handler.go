package team

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/festify/internal/notification"
	"github.com/nao1215/festify/pkg/middleware"
	"github.com/nao1215/festify/pkg/ratelimit"
)

// Handler はチーム招待のHTTPハンドラ。
type Handler struct {
	// protocol はチーム招待プロトコル。
	protocol *Protocol
	// limiter は招待発行のレート制限。
	limiter *ratelimit.Limiter
}

// NewHandler は新しいチーム招待ハンドラを生成する。
func NewHandler(protocol *Protocol, limiter *ratelimit.Limiter) *Handler {
	return &Handler{protocol: protocol, limiter: limiter}
}

// RegisterRoutes はチーム招待関連のルーティングを登録する。
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	teams := api.Group("/teams")
	{
		// チーム招待の発行
		teams.POST("/invite", h.handleInvite())
		// チーム招待への応答（承諾・辞退）
		teams.POST("/invite/respond", h.handleRespond())
	}
}

// inviteRequest はチーム招待発行リクエストのJSON構造。
type inviteRequest struct {
	// EventID は対象イベントのID。
	EventID string `json:"event_id" binding:"required"`
	// InviteeID は招待するユーザーのID。
	InviteeID string `json:"invitee_id" binding:"required"`
}

// handleInvite はチーム招待を発行するハンドラ。
func (h *Handler) handleInvite() gin.HandlerFunc {
	return func(c *gin.Context) {
		leaderID := middleware.GetUserID(c)
		if leaderID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req inviteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.InviteeID == leaderID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "自分自身を招待することはできません"})
			return
		}

		result := h.limiter.Check(c.Request.Context(), ratelimit.KindTeamInvite, leaderID)
		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":    "チーム招待の回数制限を超えました",
				"reset_at": result.ResetAt.Format(time.RFC3339),
			})
			return
		}

		leaderName := middleware.GetName(c)
		if leaderName == "" {
			leaderName = leaderID
		}

		invite, err := h.protocol.Invite(c.Request.Context(), leaderID, leaderName, req.EventID, req.InviteeID)
		switch {
		case errors.Is(err, ErrAlreadyParticipating):
			c.JSON(http.StatusConflict, gin.H{"error": "このユーザーは既にイベントに参加しています"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "チーム招待の発行に失敗しました"})
			log.Printf("チーム招待発行エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message":         "チーム招待を送信しました",
			"participant_id":  invite.ParticipantID,
			"notification_id": invite.NotificationID,
			"delivered":       invite.Delivered,
		})
	}
}

// respondRequest はチーム招待応答リクエストのJSON構造。
type respondRequest struct {
	// NotificationID は応答対象のTEAM_INVITE通知のID。
	NotificationID string `json:"notification_id" binding:"required"`
	// Accept は招待を承諾するかどうか。falseは辞退を表す。
	Accept *bool `json:"accept" binding:"required"`
}

// handleRespond はチーム招待への応答を処理するハンドラ。
func (h *Handler) handleRespond() gin.HandlerFunc {
	return func(c *gin.Context) {
		responderID := middleware.GetUserID(c)
		if responderID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req respondRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		responderName := middleware.GetName(c)
		if responderName == "" {
			responderName = responderID
		}

		result, err := h.protocol.Respond(c.Request.Context(), responderID, responderName, req.NotificationID, *req.Accept)
		switch {
		case errors.Is(err, notification.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		case errors.Is(err, notification.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "この招待に応答する権限がありません"})
			return
		case errors.Is(err, ErrNotInvite):
			c.JSON(http.StatusBadRequest, gin.H{"error": "指定された通知はチーム招待ではありません"})
			return
		case errors.Is(err, ErrInviteResolved):
			c.JSON(http.StatusNotFound, gin.H{"error": "招待は既に処理されています"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "招待への応答処理に失敗しました"})
			log.Printf("チーム招待応答エラー: %v", err)
			return
		}

		message := "チーム招待を承諾しました"
		if !result.Accepted {
			message = "チーム招待を辞退しました"
		}
		c.JSON(http.StatusOK, gin.H{
			"message":   message,
			"delivered": result.Delivered,
		})
	}
}
