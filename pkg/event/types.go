package event

import (
	"encoding/json"
	"time"
)

// NotificationType は通知の種類を表す。
// 通知メタデータのスキーマは種類ごとに決まるタグ付きユニオンである。
type NotificationType string

const (
	// TypeGeneral は運営からのお知らせ等の汎用通知を表す。
	TypeGeneral NotificationType = "GENERAL"
	// TypeTeamInvite はチームへの招待通知を表す。受信者の応答を必要とする。
	TypeTeamInvite NotificationType = "TEAM_INVITE"
	// TypeTeamInviteResponse はチーム招待への応答（承諾・辞退）通知を表す。
	TypeTeamInviteResponse NotificationType = "TEAM_INVITE_RESPONSE"
	// TypeResultDeclared はイベントの結果発表通知を表す。
	TypeResultDeclared NotificationType = "RESULT_DECLARED"
	// TypeEventReminder はイベント開始前のリマインダー通知を表す。
	TypeEventReminder NotificationType = "EVENT_REMINDER"
)

// Valid は既知の通知種類かどうかを返す。
func (t NotificationType) Valid() bool {
	switch t {
	case TypeGeneral, TypeTeamInvite, TypeTeamInviteResponse, TypeResultDeclared, TypeEventReminder:
		return true
	}
	return false
}

// StreamKind はSSEストリームに流れるイベントの種類を表す。
type StreamKind string

const (
	// StreamKindConnected は接続確立直後にクライアントへ送る疎通イベントを表す。
	StreamKindConnected StreamKind = "connected"
	// StreamKindNotification は新しい通知が作成されたことを表す。
	StreamKindNotification StreamKind = "notification"
)

// StreamEvent はSSEストリームでクライアントに配信するイベントのエンベロープ。
// Payloadの構造はKindに依存する。
type StreamEvent struct {
	// Kind はストリームイベントの種類。
	Kind StreamKind `json:"kind"`
	// Payload はイベント固有のデータ（JSON形式）。
	Payload json.RawMessage `json:"payload,omitempty"`
	// CreatedAt はイベントが生成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// TeamInviteMetadata はTEAM_INVITE通知のメタデータ。
// 応答処理がチーム参加行を解決できるよう、参加行の識別子を保持する。
type TeamInviteMetadata struct {
	// ParticipantID は招待されたユーザーの（未確定の）チーム参加行のID。
	ParticipantID string `json:"participant_id"`
	// MainParticipantID はチームリーダーのチーム参加行のID。
	MainParticipantID string `json:"main_participant_id"`
	// EventID は対象イベントのID。
	EventID string `json:"event_id"`
	// InviterName は招待したリーダーの表示名。
	InviterName string `json:"inviter_name"`
}

// TeamInviteResponseMetadata はTEAM_INVITE_RESPONSE通知のメタデータ。
// チームリーダーに届く応答結果の詳細を保持する。
type TeamInviteResponseMetadata struct {
	// EventID は対象イベントのID。
	EventID string `json:"event_id"`
	// ResponderID は応答したユーザーのID。
	ResponderID string `json:"responder_id"`
	// ResponderName は応答したユーザーの表示名。
	ResponderName string `json:"responder_name"`
	// Accepted は招待が承諾されたかどうか。falseは辞退を表す。
	Accepted bool `json:"accepted"`
}

// ResultDeclaredMetadata はRESULT_DECLARED通知のメタデータ。
type ResultDeclaredMetadata struct {
	// EventID は結果が発表されたイベントのID。
	EventID string `json:"event_id"`
	// EventName はイベントの表示名。
	EventName string `json:"event_name"`
	// Position は入賞順位。
	Position int `json:"position"`
}

// EventReminderMetadata はEVENT_REMINDER通知のメタデータ。
type EventReminderMetadata struct {
	// EventID はリマインド対象イベントのID。
	EventID string `json:"event_id"`
	// EventName はイベントの表示名。
	EventName string `json:"event_name"`
	// StartAt はイベント開始日時（RFC3339形式）。
	StartAt string `json:"start_at"`
}
