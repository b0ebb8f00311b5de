package team

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound は指定された参加行が存在しないことを表す。
var ErrNotFound = errors.New("チーム参加行が見つかりません")

// sqliteTimeLayout はSQLiteのdatetime('now')と同じ時刻表現。
const sqliteTimeLayout = "2006-01-02 15:04:05"

// Participation はイベントへのチーム参加を表す1行。
// リーダーの行はMainParticipantIDが空で、作成時点で確定している。
// 招待された参加者の行は応答があるまで未確定のまま残る。
type Participation struct {
	// ID は参加行の一意識別子（UUID）。
	ID string
	// EventID は対象イベントのID。
	EventID string
	// UserID は参加者のユーザーID。
	UserID string
	// MainParticipantID はチームリーダーの参加行のID。リーダー自身は空文字列。
	MainParticipantID string
	// Confirmed は参加が確定しているかどうか。
	Confirmed bool
	// CreatedAt は参加行の作成日時（UTC）。
	CreatedAt time.Time
}

// Store は参加名簿テーブルへのクエリ実行オブジェクト。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// NewStore は新しい参加名簿ストアを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateParticipationParams は参加行作成のパラメータ。
type CreateParticipationParams struct {
	// EventID は対象イベントのID。
	EventID string
	// UserID は参加者のユーザーID。
	UserID string
	// MainParticipantID はチームリーダーの参加行のID。リーダー自身は空文字列。
	MainParticipantID string
	// Confirmed は参加が確定しているかどうか。
	Confirmed bool
}

// CreateParticipation は参加行を1件作成して返す。
func (s *Store) CreateParticipation(ctx context.Context, p CreateParticipationParams) (*Participation, error) {
	participation := &Participation{
		ID:                uuid.New().String(),
		EventID:           p.EventID,
		UserID:            p.UserID,
		MainParticipantID: p.MainParticipantID,
		Confirmed:         p.Confirmed,
		CreatedAt:         s.now().UTC().Truncate(time.Second),
	}

	confirmed := 0
	if p.Confirmed {
		confirmed = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_participations (id, event_id, user_id, main_participant_id, confirmed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		participation.ID, p.EventID, p.UserID, p.MainParticipantID, confirmed,
		participation.CreatedAt.Format(sqliteTimeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("参加行の作成に失敗: %w", err)
	}
	return participation, nil
}

// GetParticipation は参加行をIDで取得する。存在しない場合はErrNotFoundを返す。
func (s *Store) GetParticipation(ctx context.Context, id string) (*Participation, error) {
	return s.get(ctx,
		`SELECT id, event_id, user_id, main_participant_id, confirmed, created_at
		 FROM team_participations WHERE id = ?`, id)
}

// FindByEventAndUser はイベントとユーザーの組で参加行を取得する。
// 存在しない場合はErrNotFoundを返す。
func (s *Store) FindByEventAndUser(ctx context.Context, eventID, userID string) (*Participation, error) {
	return s.get(ctx,
		`SELECT id, event_id, user_id, main_participant_id, confirmed, created_at
		 FROM team_participations WHERE event_id = ? AND user_id = ?`, eventID, userID)
}

// get はクエリを実行して参加行を1件返す。
// created_atはDATETIME列のためドライバがtime.Timeとして返す。
func (s *Store) get(ctx context.Context, query string, args ...any) (*Participation, error) {
	var (
		p         Participation
		confirmed int64
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.EventID, &p.UserID, &p.MainParticipantID, &confirmed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("参加行の取得に失敗: %w", err)
	}
	p.Confirmed = confirmed != 0
	p.CreatedAt = createdAt.UTC()
	return &p, nil
}

// ListByEvent は指定イベントの全参加行を作成順で返す。
func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]*Participation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, user_id, main_participant_id, confirmed, created_at
		 FROM team_participations WHERE event_id = ?
		 ORDER BY created_at, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("参加行一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	participations := make([]*Participation, 0)
	for rows.Next() {
		var (
			p         Participation
			confirmed int64
			createdAt time.Time
		)
		if err := rows.Scan(&p.ID, &p.EventID, &p.UserID, &p.MainParticipantID, &confirmed, &createdAt); err != nil {
			return nil, fmt.Errorf("参加行の読み取りに失敗: %w", err)
		}
		p.Confirmed = confirmed != 0
		p.CreatedAt = createdAt.UTC()
		participations = append(participations, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("参加行一覧の走査に失敗: %w", err)
	}
	return participations, nil
}

// ConfirmParticipation は参加行を確定させる。
// 行が存在すればtrueを返す（既に確定済みの行に対しても成功する）。
func (s *Store) ConfirmParticipation(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE team_participations SET confirmed = 1 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("参加行の確定に失敗: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return affected > 0, nil
}

// DeleteParticipation は参加行を削除する。削除できた場合はtrueを返す。
func (s *Store) DeleteParticipation(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM team_participations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("参加行の削除に失敗: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return affected > 0, nil
}
