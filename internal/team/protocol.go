package team

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/nao1215/festify/internal/notification"
	"github.com/nao1215/festify/internal/stream"
	"github.com/nao1215/festify/pkg/event"
)

var (
	// ErrAlreadyParticipating は招待先が既にそのイベントの参加行を持つことを表す。
	ErrAlreadyParticipating = errors.New("このユーザーは既にイベントに参加しています")
	// ErrInviteResolved は招待が既に処理済み（参加行が存在しない）ことを表す。
	ErrInviteResolved = errors.New("招待は既に処理されています")
	// ErrNotInvite は指定された通知がチーム招待ではないことを表す。
	ErrNotInvite = errors.New("指定された通知はチーム招待ではありません")
)

// Protocol はチーム招待の一連の流れを調整する。
// 参加名簿の更新と通知の作成・配信を1つの操作として扱い、
// 招待の発行から応答の反映までの状態遷移を担当する。
type Protocol struct {
	// store は参加名簿のクエリ実行オブジェクト。
	store *Store
	// notifications は通知ストア。招待通知と応答通知の作成に使う。
	notifications *notification.Store
	// queue はプッシュ配信ジョブの登録先。
	queue notification.Enqueuer
	// registry はSSE接続レジストリ。ライブ配信に使う。
	registry *stream.Registry
}

// NewProtocol は新しいチーム招待プロトコルを生成する。
func NewProtocol(store *Store, notifications *notification.Store, queue notification.Enqueuer, registry *stream.Registry) *Protocol {
	return &Protocol{
		store:         store,
		notifications: notifications,
		queue:         queue,
		registry:      registry,
	}
}

// InviteResult は招待発行の結果。
type InviteResult struct {
	// ParticipantID は作成された未確定の参加行のID。
	ParticipantID string
	// NotificationID は招待先に作成されたTEAM_INVITE通知のID。
	NotificationID string
	// Delivered はSSEでライブ配信できた接続数。
	Delivered int
}

// Invite はチーム招待を発行する。
// リーダー自身の参加行がなければ確定済みで作成し、招待先の未確定の参加行と
// 応答待ちのTEAM_INVITE通知を作成する。招待先が既に参加行を持つ場合は
// ErrAlreadyParticipatingを返す。
func (p *Protocol) Invite(ctx context.Context, leaderID, leaderName, eventID, inviteeID string) (*InviteResult, error) {
	// リーダー自身の参加行を解決する。初めての招待なら確定済みで作成する
	leader, err := p.store.FindByEventAndUser(ctx, eventID, leaderID)
	if errors.Is(err, ErrNotFound) {
		leader, err = p.store.CreateParticipation(ctx, CreateParticipationParams{
			EventID:   eventID,
			UserID:    leaderID,
			Confirmed: true,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("リーダーの参加行の解決に失敗: %w", err)
	}

	if _, err := p.store.FindByEventAndUser(ctx, eventID, inviteeID); err == nil {
		return nil, ErrAlreadyParticipating
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("招待先の参加行の確認に失敗: %w", err)
	}

	invitee, err := p.store.CreateParticipation(ctx, CreateParticipationParams{
		EventID:           eventID,
		UserID:            inviteeID,
		MainParticipantID: leader.ID,
		Confirmed:         false,
	})
	if err != nil {
		return nil, fmt.Errorf("招待先の参加行の作成に失敗: %w", err)
	}

	metadata, err := event.MarshalMetadata(event.TeamInviteMetadata{
		ParticipantID:     invitee.ID,
		MainParticipantID: leader.ID,
		EventID:           eventID,
		InviterName:       leaderName,
	})
	if err != nil {
		p.compensateInvite(ctx, invitee.ID)
		return nil, fmt.Errorf("招待メタデータのシリアライズに失敗: %w", err)
	}

	n, err := p.notifications.Create(ctx, notification.CreateParams{
		UserID:   inviteeID,
		Type:     event.TypeTeamInvite,
		Title:    "チーム招待",
		Message:  fmt.Sprintf("%sさんからチームに招待されました", leaderName),
		Metadata: metadata,
	})
	if err != nil {
		p.compensateInvite(ctx, invitee.ID)
		return nil, fmt.Errorf("招待通知の作成に失敗: %w", err)
	}

	return &InviteResult{
		ParticipantID:  invitee.ID,
		NotificationID: n.ID,
		Delivered:      p.deliver(ctx, n),
	}, nil
}

// compensateInvite は招待通知を作成できなかったときに未確定の参加行を取り消す。
// 行が残ると誰も応答できない招待が名簿を塞ぎ、再招待も拒否されてしまう。
func (p *Protocol) compensateInvite(ctx context.Context, participantID string) {
	if _, err := p.store.DeleteParticipation(ctx, participantID); err != nil {
		log.Printf("招待参加行の取り消しに失敗: %v", err)
	}
}

// RespondResult は招待応答の結果。
type RespondResult struct {
	// Accepted は招待が承諾されたかどうか。
	Accepted bool
	// Delivered はリーダーへのSSEライブ配信ができた接続数。
	Delivered int
}

// Respond はチーム招待への応答を処理する。
// 承諾なら参加行を確定し（確定済みの行への再承諾は成功扱い）、辞退なら参加行を
// 削除する。どちらの場合も招待通知を既読にし、結果をTEAM_INVITE_RESPONSE通知
// としてリーダーに届ける。参加行が既に存在しない場合はErrInviteResolvedを返す。
func (p *Protocol) Respond(ctx context.Context, responderID, responderName, notificationID string, accept bool) (*RespondResult, error) {
	n, err := p.notifications.GetByID(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.UserID != responderID {
		return nil, notification.ErrForbidden
	}
	if n.Type != event.TypeTeamInvite {
		return nil, ErrNotInvite
	}

	metadata, err := event.DecodeMetadata[event.TeamInviteMetadata](n.Metadata)
	if err != nil {
		return nil, fmt.Errorf("招待メタデータの解析に失敗: %w", err)
	}

	if accept {
		confirmed, err := p.store.ConfirmParticipation(ctx, metadata.ParticipantID)
		if err != nil {
			return nil, err
		}
		if !confirmed {
			return nil, ErrInviteResolved
		}
	} else {
		deleted, err := p.store.DeleteParticipation(ctx, metadata.ParticipantID)
		if err != nil {
			return nil, err
		}
		if !deleted {
			return nil, ErrInviteResolved
		}
	}

	if err := p.notifications.MarkAsRead(ctx, notificationID, responderID); err != nil {
		log.Printf("招待通知の既読化に失敗: %v", err)
	}

	return &RespondResult{
		Accepted:  accept,
		Delivered: p.notifyLeader(ctx, metadata, responderID, responderName, accept),
	}, nil
}

// notifyLeader は応答結果をTEAM_INVITE_RESPONSE通知としてリーダーに届ける。
// リーダーの参加行が既にない場合や通知の作成に失敗した場合は応答自体は成功とし、
// ログに記録するだけにとどめる。
func (p *Protocol) notifyLeader(ctx context.Context, inviteMeta *event.TeamInviteMetadata, responderID, responderName string, accepted bool) int {
	leader, err := p.store.GetParticipation(ctx, inviteMeta.MainParticipantID)
	if err != nil {
		log.Printf("リーダーの参加行の解決に失敗: %v", err)
		return 0
	}

	metadata, err := event.MarshalMetadata(event.TeamInviteResponseMetadata{
		EventID:       inviteMeta.EventID,
		ResponderID:   responderID,
		ResponderName: responderName,
		Accepted:      accepted,
	})
	if err != nil {
		log.Printf("応答メタデータのシリアライズに失敗: %v", err)
		return 0
	}

	verb := "承諾"
	if !accepted {
		verb = "辞退"
	}
	n, err := p.notifications.Create(ctx, notification.CreateParams{
		UserID:   leader.UserID,
		Type:     event.TypeTeamInviteResponse,
		Title:    "チーム招待への応答",
		Message:  fmt.Sprintf("%sさんがチーム招待を%sしました", responderName, verb),
		Metadata: metadata,
	})
	if err != nil {
		log.Printf("応答通知の作成に失敗: %v", err)
		return 0
	}
	return p.deliver(ctx, n)
}

// deliver は作成済み通知のプッシュ配信ジョブ登録とSSEライブ配信を行い、
// SSEで配信できた接続数を返す。
func (p *Protocol) deliver(ctx context.Context, n *notification.Notification) int {
	if err := p.queue.Enqueue(ctx, n.UserID, n.Title, n.Message, n.Metadata); err != nil {
		log.Printf("プッシュ配信ジョブの登録に失敗: %v", err)
	}

	payload := map[string]any{
		"id":       n.ID,
		"type":     string(n.Type),
		"title":    n.Title,
		"message":  n.Message,
		"metadata": n.Metadata,
	}
	ev, err := event.NewStreamEvent(event.StreamKindNotification, payload)
	if err != nil {
		log.Printf("ストリームイベントの生成に失敗: %v", err)
		return 0
	}
	return p.registry.Publish(n.UserID, ev)
}
