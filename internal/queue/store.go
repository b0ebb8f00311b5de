package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ジョブの状態。
const (
	// StatusPending は未送信のジョブを表す。
	StatusPending = "PENDING"
	// StatusSent は送信済みのジョブを表す。
	StatusSent = "SENT"
)

// sqliteTimeLayout はSQLiteのdatetime('now')と同じ時刻表現。
const sqliteTimeLayout = "2006-01-02 15:04:05"

// Item は配信キューに積まれた1件のプッシュ配信ジョブ。
type Item struct {
	// ID はジョブの一意識別子（UUID）。
	ID string
	// UserID は配信先のユーザーID。
	UserID string
	// Title はプッシュ通知のタイトル。
	Title string
	// Body はプッシュ通知の本文。
	Body string
	// Metadata は通知に付随するデータ（JSON文字列）。
	Metadata string
	// Status はジョブの状態（PENDING / SENT）。
	Status string
	// Attempts は送信試行回数。
	Attempts int
	// LastError は直近の送信失敗理由。
	LastError string
	// CreatedAt はジョブの作成日時（UTC）。
	CreatedAt time.Time
}

// Store は配信キューとデバイス購読テーブルへのクエリ実行オブジェクト。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// NewStore は新しい配信キューストアを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Enqueue はプッシュ配信ジョブをキューに登録する。
func (s *Store) Enqueue(ctx context.Context, userID, title, body, metadata string) error {
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_queue (id, user_id, title, body, metadata, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, title, body, metadata, StatusPending,
		s.now().UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("配信ジョブの登録に失敗: %w", err)
	}
	return nil
}

// ListPending は未送信のジョブを古い順に最大limit件返す。
func (s *Store) ListPending(ctx context.Context, limit int) ([]*Item, error) {
	return s.list(ctx,
		`SELECT id, user_id, title, body, metadata, status, attempts, last_error, created_at
		 FROM notification_queue WHERE status = ?
		 ORDER BY created_at, id LIMIT ?`, StatusPending, limit)
}

// ListUnsent は未送信の全ジョブを古い順に返す。運用時の状況確認に使う。
func (s *Store) ListUnsent(ctx context.Context) ([]*Item, error) {
	return s.list(ctx,
		`SELECT id, user_id, title, body, metadata, status, attempts, last_error, created_at
		 FROM notification_queue WHERE status = ?
		 ORDER BY created_at, id`, StatusPending)
}

// list はクエリを実行してジョブのスライスを返す。
func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("配信ジョブ一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	items := make([]*Item, 0)
	for rows.Next() {
		var (
			item      Item
			createdAt time.Time
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.Title, &item.Body,
			&item.Metadata, &item.Status, &item.Attempts, &item.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("配信ジョブ行の読み取りに失敗: %w", err)
		}
		// created_atはDATETIME列のためドライバがtime.Timeとして返す。
		item.CreatedAt = createdAt.UTC()
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("配信ジョブ一覧の走査に失敗: %w", err)
	}
	return items, nil
}

// MarkSent はジョブを送信済みにする。
func (s *Store) MarkSent(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue SET status = ?, attempts = attempts + 1, last_error = ''
		 WHERE id = ?`, StatusSent, id); err != nil {
		return fmt.Errorf("配信ジョブの送信済み化に失敗: %w", err)
	}
	return nil
}

// RecordFailure は送信失敗を記録する。ジョブはPENDINGのまま残り、次回再試行される。
func (s *Store) RecordFailure(ctx context.Context, id, cause string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue SET attempts = attempts + 1, last_error = ?
		 WHERE id = ?`, cause, id); err != nil {
		return fmt.Errorf("送信失敗の記録に失敗: %w", err)
	}
	return nil
}

// DeleteExpired は保持期限を過ぎた送信済みジョブを削除し、削除件数を返す。
func (s *Store) DeleteExpired(ctx context.Context, maxAgeDays int) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -maxAgeDays).Format(sqliteTimeLayout)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_queue WHERE status = ? AND created_at < ?`,
		StatusSent, cutoff)
	if err != nil {
		return 0, fmt.Errorf("期限切れジョブの削除に失敗: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}

// Subscribe はデバイストークンをユーザーの購読として登録する。
// 同じトークンが既に登録されている場合は所有者を付け替える（端末の使い回し対応）。
func (s *Store) Subscribe(ctx context.Context, userID, deviceToken string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (id, user_id, device_token, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (device_token) DO UPDATE SET user_id = excluded.user_id`,
		uuid.New().String(), userID, deviceToken,
		s.now().UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("デバイス購読の登録に失敗: %w", err)
	}
	return nil
}

// Unsubscribe は指定ユーザーのデバイストークンの購読を解除する。
// 削除できた場合はtrueを返す。
func (s *Store) Unsubscribe(ctx context.Context, userID, deviceToken string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = ? AND device_token = ?`,
		userID, deviceToken)
	if err != nil {
		return false, fmt.Errorf("デバイス購読の解除に失敗: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted > 0, nil
}

// ListTokensByUser は指定ユーザーの全デバイストークンを返す。
func (s *Store) ListTokensByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_token FROM push_subscriptions WHERE user_id = ? ORDER BY created_at, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("デバイストークンの取得に失敗: %w", err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("デバイストークン行の読み取りに失敗: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("デバイストークン一覧の走査に失敗: %w", err)
	}
	return tokens, nil
}
