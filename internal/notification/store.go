package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/festify/pkg/event"
)

var (
	// ErrNotFound は指定された通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は通知の所有者以外が操作しようとしたことを表す。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
)

// sqliteTimeLayout はSQLiteのdatetime('now')と同じ時刻表現。
// 文字列比較がそのまま時刻の前後関係になる。
const sqliteTimeLayout = "2006-01-02 15:04:05"

// Notification は通知ストアに保存される1件の通知。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string
	// UserID は通知先のユーザーID。
	UserID string
	// Type は通知の種類。
	Type event.NotificationType
	// Title は通知のタイトル。
	Title string
	// Message は通知メッセージ。
	Message string
	// Metadata は種類ごとの付随データ（JSON文字列）。
	Metadata string
	// IsRead は通知の既読状態。
	IsRead bool
	// CreatedAt は通知の作成日時（UTC）。
	CreatedAt time.Time
}

// Store は通知テーブルへのクエリ実行オブジェクト。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// NewStore は新しい通知ストアを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateParams は通知作成のパラメータ。
type CreateParams struct {
	// UserID は通知先のユーザーID。
	UserID string
	// Type は通知の種類。
	Type event.NotificationType
	// Title は通知のタイトル。
	Title string
	// Message は通知メッセージ。
	Message string
	// Metadata は種類ごとの付随データ（JSON文字列）。空なら '{}' が保存される。
	Metadata string
}

// Create は通知を1件作成して返す。
func (s *Store) Create(ctx context.Context, p CreateParams) (*Notification, error) {
	n := s.build(p)
	if err := insertNotification(ctx, s.db, n); err != nil {
		return nil, err
	}
	return n, nil
}

// CreateMany は複数ユーザーへの同内容の通知を単一トランザクションで作成する。
// 途中で失敗した場合は全件ロールバックされる。
func (s *Store) CreateMany(ctx context.Context, userIDs []string, p CreateParams) ([]*Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	notifications := make([]*Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		p.UserID = userID
		n := s.build(p)
		if err := insertNotification(ctx, tx, n); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return notifications, nil
}

// build はパラメータから保存前の通知を組み立てる。
func (s *Store) build(p CreateParams) *Notification {
	metadata := p.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	return &Notification{
		ID:        uuid.New().String(),
		UserID:    p.UserID,
		Type:      p.Type,
		Title:     p.Title,
		Message:   p.Message,
		Metadata:  metadata,
		IsRead:    false,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
}

// execer は*sql.DBと*sql.Txの共通インターフェース。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertNotification は通知を1行挿入する。
func insertNotification(ctx context.Context, db execer, n *Notification) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, metadata, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.Metadata,
		n.CreatedAt.Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("通知の作成に失敗: %w", err)
	}
	return nil
}

// GetByID は通知をIDで取得する。存在しない場合はErrNotFoundを返す。
func (s *Store) GetByID(ctx context.Context, id string) (*Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, type, title, message, metadata, is_read, created_at
		 FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return n, nil
}

// ListByUser は指定ユーザーの全通知を新しい順で返す。
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Notification, error) {
	return s.list(ctx,
		`SELECT id, user_id, type, title, message, metadata, is_read, created_at
		 FROM notifications WHERE user_id = ?
		 ORDER BY created_at DESC, id`, userID)
}

// ListUnread は指定ユーザーの未読通知を新しい順で返す。
func (s *Store) ListUnread(ctx context.Context, userID string) ([]*Notification, error) {
	return s.list(ctx,
		`SELECT id, user_id, type, title, message, metadata, is_read, created_at
		 FROM notifications WHERE user_id = ? AND is_read = 0
		 ORDER BY created_at DESC, id`, userID)
}

// list はクエリを実行して通知のスライスを返す。
func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	notifications := make([]*Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("通知行の読み取りに失敗: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知一覧の走査に失敗: %w", err)
	}
	return notifications, nil
}

// scanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanNotification は1行を通知に変換する。
// created_atはDATETIME列のためドライバがtime.Timeとして返す。
func scanNotification(row scanner) (*Notification, error) {
	var (
		n         Notification
		typ       string
		isRead    int64
		createdAt time.Time
	)
	if err := row.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.Metadata, &isRead, &createdAt); err != nil {
		return nil, err
	}
	n.Type = event.NotificationType(typ)
	n.IsRead = isRead != 0
	n.CreatedAt = createdAt.UTC()
	return &n, nil
}

// MarkAsRead は通知を既読にする。所有者チェックを行い、
// 通知が存在しない場合はErrNotFound、所有者が異なる場合はErrForbiddenを返す。
// 既に既読の通知に対しては何もせず成功を返す（冪等）。
func (s *Store) MarkAsRead(ctx context.Context, id, userID string) error {
	var ownerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM notifications WHERE id = ?`, id).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("通知の取得に失敗: %w", err)
	}
	if ownerID != userID {
		return ErrForbidden
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("通知の既読化に失敗: %w", err)
	}
	return nil
}

// MarkAllAsRead は指定ユーザーの全通知を既読にする。
func (s *Store) MarkAllAsRead(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("全通知の既読化に失敗: %w", err)
	}
	return nil
}

// Clear は指定ユーザーの通知を一括削除し、削除件数を返す。
// 応答待ちのチーム招待を失わないよう、未読のTEAM_INVITE通知は削除しない。
func (s *Store) Clear(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications
		 WHERE user_id = ? AND NOT (type = ? AND is_read = 0)`,
		userID, string(event.TypeTeamInvite))
	if err != nil {
		return 0, fmt.Errorf("通知の一括削除に失敗: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}

// DeleteExpired は保持期限を過ぎた通知を削除し、削除件数を返す。
func (s *Store) DeleteExpired(ctx context.Context, maxAgeDays int) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -maxAgeDays).Format(sqliteTimeLayout)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("期限切れ通知の削除に失敗: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}
