package queue

import (
	"database/sql"
	"fmt"
)

// 配信キューとデバイス購読テーブルのスキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS notification_queue (
    -- 配信ジョブの一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- 配信先のユーザーID
    user_id TEXT NOT NULL,
    -- プッシュ通知のタイトル
    title TEXT NOT NULL,
    -- プッシュ通知の本文
    body TEXT NOT NULL,
    -- 通知に付随するデータ（JSON文字列）
    metadata TEXT NOT NULL DEFAULT '{}',
    -- ジョブの状態（PENDING / SENT）
    status TEXT NOT NULL DEFAULT 'PENDING',
    -- 送信試行回数
    attempts INTEGER NOT NULL DEFAULT 0,
    -- 直近の送信失敗理由
    last_error TEXT NOT NULL DEFAULT '',
    -- ジョブの作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- 未送信ジョブの取得を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_notification_queue_pending
    ON notification_queue(status, created_at) WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS push_subscriptions (
    -- 購読の一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- デバイスの所有者のユーザーID
    user_id TEXT NOT NULL,
    -- プッシュ通知の宛先となるデバイストークン
    device_token TEXT NOT NULL UNIQUE,
    -- 購読の登録日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- ユーザーIDでのトークン解決を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user_id
    ON push_subscriptions(user_id);
`

// InitSchema はSQLiteデータベースに配信キューのスキーマを適用する。
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("配信キュースキーマの適用に失敗: %w", err)
	}
	return nil
}
