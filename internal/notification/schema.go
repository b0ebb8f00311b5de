package notification

import (
	"database/sql"
	"fmt"
)

// 通知テーブルのスキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS notifications (
    -- 通知の一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- 通知先のユーザーID
    user_id TEXT NOT NULL,
    -- 通知の種類（GENERAL / TEAM_INVITE / TEAM_INVITE_RESPONSE / RESULT_DECLARED / EVENT_REMINDER）
    type TEXT NOT NULL DEFAULT 'GENERAL',
    -- 通知のタイトル
    title TEXT NOT NULL,
    -- 通知メッセージ
    message TEXT NOT NULL,
    -- 種類ごとの付随データ（JSON文字列）
    metadata TEXT NOT NULL DEFAULT '{}',
    -- 通知の既読状態
    is_read INTEGER NOT NULL DEFAULT 0,
    -- 通知の作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- ユーザーIDでの検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_notifications_user_id
    ON notifications(user_id);

-- 未読通知の検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_notifications_unread
    ON notifications(user_id, is_read) WHERE is_read = 0;

-- 保持期限切れ通知の削除を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_notifications_created_at
    ON notifications(created_at);
`

// InitSchema はSQLiteデータベースに通知テーブルのスキーマを適用する。
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("通知スキーマの適用に失敗: %w", err)
	}
	return nil
}
