package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// Kind はレート制限の用途を表す。用途ごとに独立したカウンタを持つ。
type Kind string

const (
	// KindNotification は通知の単発送信APIに適用する制限。
	KindNotification Kind = "notification"
	// KindBulkNotification は通知の一括送信APIに適用する制限。
	KindBulkNotification Kind = "bulk_notification"
	// KindTeamInvite はチーム招待の発行に適用する制限。
	KindTeamInvite Kind = "team_invite"
	// KindStreamConnect はSSEストリーム接続の開始に適用する制限。
	KindStreamConnect Kind = "stream_connect"
)

// kindConfig は用途ごとのウィンドウ幅と上限回数。
type kindConfig struct {
	// limit はウィンドウ内で許可する最大回数。
	limit int
	// window はカウンタのウィンドウ幅。
	window time.Duration
}

// kindConfigs は用途ごとの制限設定。
var kindConfigs = map[Kind]kindConfig{
	KindNotification:     {limit: 10, window: time.Minute},
	KindBulkNotification: {limit: 5, window: time.Hour},
	KindTeamInvite:       {limit: 20, window: time.Hour},
	KindStreamConnect:    {limit: 20, window: time.Minute},
}

// Result はレート制限チェックの結果。
type Result struct {
	// Allowed はリクエストが許可されたかどうか。
	Allowed bool
	// Limit はウィンドウ内で許可する最大回数。
	Limit int
	// Remaining はウィンドウ内の残り許可回数。
	Remaining int
	// ResetAt はカウンタがリセットされる日時。
	ResetAt time.Time
}

// Limiter はSQLiteをバックエンドとするレートリミッタ。
// (用途, 識別子) の組ごとにスライディングウィンドウカウンタを管理する。
type Limiter struct {
	// db はカウンタの保存先SQLiteデータベース。
	db *sql.DB
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// schema はレート制限カウンタのスキーマ定義。
// reset_atはUnix秒。ウィンドウ境界の比較を単純にするため整数で保持する。
const schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    -- レート制限の用途
    kind TEXT NOT NULL,
    -- 制限対象の識別子（ユーザーID等）
    identifier TEXT NOT NULL,
    -- 現在のウィンドウ内でのカウント
    count INTEGER NOT NULL,
    -- カウンタがリセットされる日時（Unix秒）
    reset_at INTEGER NOT NULL,
    PRIMARY KEY (kind, identifier)
);
`

// InitSchema はSQLiteデータベースにレート制限カウンタのスキーマを適用する。
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}

// NewLimiter は新しいレートリミッタを生成する。
func NewLimiter(db *sql.DB) *Limiter {
	return &Limiter{
		db:  db,
		now: time.Now,
	}
}

// Check は (kind, identifier) のカウンタを更新し、リクエストの可否を判定する。
// カウンタの更新は単一のUPSERT文で行うため、同一識別子への並行呼び出しでも
// カウントを取りこぼさない。
// カウンタの保存先が利用できない場合はログに記録したうえで許可側に倒す。
// リミッタの障害が正規のトラフィックを止めてはならないため、この方針を変更しないこと。
func (l *Limiter) Check(ctx context.Context, kind Kind, identifier string) Result {
	config, ok := kindConfigs[kind]
	if !ok {
		log.Printf("[RateLimit] 未定義の用途のため許可します: kind=%s", kind)
		return Result{Allowed: true}
	}

	result, err := l.increment(ctx, kind, identifier, config)
	if err != nil {
		// フェイルオープン: リミッタの障害で正規のリクエストを止めない
		log.Printf("[RateLimit] カウンタ更新エラーのため許可します: kind=%s, identifier=%s, error=%v", kind, identifier, err)
		return Result{
			Allowed:   true,
			Limit:     config.limit,
			Remaining: config.limit,
			ResetAt:   l.now().Add(config.window),
		}
	}
	return result
}

// increment はカウンタを原子的に更新し、更新後の値から可否を判定する。
// ウィンドウが経過済みならカウンタを1にリセットし、そうでなければ加算する。
// 読み取りと書き込みを1文にまとめることで、読み取り後のロック昇格失敗で
// フェイルオープンに落ちることがない。上限超過後も加算は続くが、
// reset_atは据え置かれるためウィンドウ境界は変わらない。
func (l *Limiter) increment(ctx context.Context, kind Kind, identifier string, config kindConfig) (Result, error) {
	now := l.now()
	newResetAt := now.Add(config.window).Unix()

	var count int
	var resetAtUnix int64
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO rate_limits (kind, identifier, count, reset_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (kind, identifier) DO UPDATE SET
			count = CASE WHEN rate_limits.reset_at <= ? THEN 1 ELSE rate_limits.count + 1 END,
			reset_at = CASE WHEN rate_limits.reset_at <= ? THEN ? ELSE rate_limits.reset_at END
		RETURNING count, reset_at`,
		string(kind), identifier, newResetAt,
		now.Unix(), now.Unix(), newResetAt,
	).Scan(&count, &resetAtUnix)
	if err != nil {
		return Result{}, fmt.Errorf("カウンタの更新に失敗: %w", err)
	}

	remaining := config.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= config.limit,
		Limit:     config.limit,
		Remaining: remaining,
		ResetAt:   time.Unix(resetAtUnix, 0),
	}, nil
}
