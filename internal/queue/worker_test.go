package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// sentPush はfakeSenderが記録した1件の送信。
type sentPush struct {
	token string
	title string
	body  string
	data  map[string]string
}

// fakeSender はプッシュ送信を記録するテストダブル。
// failTokensに含まれるトークンへの送信は失敗する。
type fakeSender struct {
	mu         sync.Mutex
	sent       []sentPush
	failTokens map[string]bool
}

// Send は送信を記録する。失敗指定のあるトークンにはエラーを返す。
func (s *fakeSender) Send(_ context.Context, token, title, body string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTokens[token] {
		return errors.New("プロバイダ接続失敗")
	}
	s.sent = append(s.sent, sentPush{token: token, title: title, body: body, data: data})
	return nil
}

// Sent は記録された送信のコピーを返す。
func (s *fakeSender) Sent() []sentPush {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentPush(nil), s.sent...)
}

// setupWorker はテスト用のワーカーとストア、送信記録を構築する。
// 最小間隔ゲートの時刻は注入したnowで制御する。
func setupWorker(t *testing.T) (*Worker, *Store, *fakeSender) {
	t.Helper()

	store := setupStore(t)
	sender := &fakeSender{failTokens: map[string]bool{}}
	worker := NewWorker(store, sender)

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	worker.now = func() time.Time { return base }

	return worker, store, sender
}

// advanceWorkerClock はワーカーの現在時刻を指定分だけ進める。
func advanceWorkerClock(worker *Worker, d time.Duration) {
	current := worker.now()
	worker.now = func() time.Time { return current.Add(d) }
}

// TestWorkerProcessQueue は配信キューの処理を検証する。
func TestWorkerProcessQueue(t *testing.T) {
	t.Parallel()

	t.Run("未送信ジョブが全デバイスに送信され送信済みになる", func(t *testing.T) {
		t.Parallel()
		worker, store, sender := setupWorker(t)

		if err := store.Subscribe(t.Context(), "user-1", "token-a"); err != nil {
			t.Fatalf("購読登録に失敗: %v", err)
		}
		if err := store.Subscribe(t.Context(), "user-1", "token-b"); err != nil {
			t.Fatalf("購読登録に失敗: %v", err)
		}
		if err := store.Enqueue(t.Context(), "user-1", "結果発表", "結果が発表されました", ""); err != nil {
			t.Fatalf("ジョブの登録に失敗: %v", err)
		}

		sent, err := worker.TriggerProcess(t.Context())
		if err != nil {
			t.Fatalf("キュー処理に失敗: %v", err)
		}
		if sent != 1 {
			t.Errorf("送信済みジョブ数 = %d, want 1", sent)
		}

		pushes := sender.Sent()
		if len(pushes) != 2 {
			t.Fatalf("プッシュ送信数 = %d, want 2", len(pushes))
		}
		if pushes[0].title != "結果発表" {
			t.Errorf("title = %q, want 結果発表", pushes[0].title)
		}

		pending, err := store.ListPending(t.Context(), 10)
		if err != nil {
			t.Fatalf("未送信一覧の取得に失敗: %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("処理後の未送信ジョブ数 = %d, want 0", len(pending))
		}
	})

	t.Run("デバイス未登録ユーザーのジョブは送信なしで完了する", func(t *testing.T) {
		t.Parallel()
		worker, store, sender := setupWorker(t)

		if err := store.Enqueue(t.Context(), "user-1", "タイトル", "本文", ""); err != nil {
			t.Fatalf("ジョブの登録に失敗: %v", err)
		}

		sent, err := worker.TriggerProcess(t.Context())
		if err != nil {
			t.Fatalf("キュー処理に失敗: %v", err)
		}
		if sent != 1 {
			t.Errorf("送信済みジョブ数 = %d, want 1", sent)
		}
		if len(sender.Sent()) != 0 {
			t.Errorf("プッシュ送信数 = %d, want 0", len(sender.Sent()))
		}
	})

	t.Run("送信に失敗したジョブは記録され次回再試行される", func(t *testing.T) {
		t.Parallel()
		worker, store, sender := setupWorker(t)

		if err := store.Subscribe(t.Context(), "user-1", "bad-token"); err != nil {
			t.Fatalf("購読登録に失敗: %v", err)
		}
		sender.failTokens["bad-token"] = true
		if err := store.Enqueue(t.Context(), "user-1", "タイトル", "本文", ""); err != nil {
			t.Fatalf("ジョブの登録に失敗: %v", err)
		}

		sent, err := worker.TriggerProcess(t.Context())
		if err != nil {
			t.Fatalf("キュー処理に失敗: %v", err)
		}
		if sent != 0 {
			t.Errorf("送信済みジョブ数 = %d, want 0", sent)
		}

		pending, err := store.ListPending(t.Context(), 10)
		if err != nil {
			t.Fatalf("未送信一覧の取得に失敗: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("未送信ジョブ数 = %d, want 1", len(pending))
		}
		if pending[0].Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", pending[0].Attempts)
		}
		if pending[0].LastError == "" {
			t.Error("LastErrorが記録されていない")
		}

		// プロバイダが復旧すると次回の処理で送信される
		sender.failTokens["bad-token"] = false
		advanceWorkerClock(worker, 2*time.Minute)

		sent, err = worker.TriggerProcess(t.Context())
		if err != nil {
			t.Fatalf("再試行のキュー処理に失敗: %v", err)
		}
		if sent != 1 {
			t.Errorf("再試行後の送信済みジョブ数 = %d, want 1", sent)
		}
	})

	t.Run("1件の失敗が他のジョブの処理を妨げない", func(t *testing.T) {
		t.Parallel()
		worker, store, sender := setupWorker(t)

		if err := store.Subscribe(t.Context(), "user-1", "bad-token"); err != nil {
			t.Fatalf("購読登録に失敗: %v", err)
		}
		if err := store.Subscribe(t.Context(), "user-2", "good-token"); err != nil {
			t.Fatalf("購読登録に失敗: %v", err)
		}
		sender.failTokens["bad-token"] = true

		if err := store.Enqueue(t.Context(), "user-1", "失敗するジョブ", "本文", ""); err != nil {
			t.Fatalf("ジョブの登録に失敗: %v", err)
		}
		if err := store.Enqueue(t.Context(), "user-2", "成功するジョブ", "本文", ""); err != nil {
			t.Fatalf("ジョブの登録に失敗: %v", err)
		}

		sent, err := worker.TriggerProcess(t.Context())
		if err != nil {
			t.Fatalf("キュー処理に失敗: %v", err)
		}
		if sent != 1 {
			t.Errorf("送信済みジョブ数 = %d, want 1", sent)
		}

		pending, err := store.ListPending(t.Context(), 10)
		if err != nil {
			t.Fatalf("未送信一覧の取得に失敗: %v", err)
		}
		if len(pending) != 1 || pending[0].Title != "失敗するジョブ" {
			t.Errorf("残存すべきは失敗したジョブのみ: %+v", pending)
		}
	})

	t.Run("メタデータがデータペイロードとして送られる", func(t *testing.T) {
		t.Parallel()
		worker, store, sender := setupWorker(t)

		if err := store.Subscribe(t.Context(), "user-1", "token-a"); err != nil {
			t.Fatalf("購読登録に失敗: %v", err)
		}
		metadata := `{"event_id":"ev-1","position":1}`
		if err := store.Enqueue(t.Context(), "user-1", "結果発表", "本文", metadata); err != nil {
			t.Fatalf("ジョブの登録に失敗: %v", err)
		}

		if _, err := worker.TriggerProcess(t.Context()); err != nil {
			t.Fatalf("キュー処理に失敗: %v", err)
		}

		pushes := sender.Sent()
		if len(pushes) != 1 {
			t.Fatalf("プッシュ送信数 = %d, want 1", len(pushes))
		}
		if pushes[0].data["event_id"] != "ev-1" {
			t.Errorf("data[event_id] = %q, want ev-1", pushes[0].data["event_id"])
		}
		if pushes[0].data["position"] != "1" {
			t.Errorf("data[position] = %q, want 1", pushes[0].data["position"])
		}
	})
}

// TestWorkerTriggerGate は最小間隔ゲートを検証する。
func TestWorkerTriggerGate(t *testing.T) {
	t.Parallel()

	worker, _, _ := setupWorker(t)

	if _, err := worker.TriggerProcess(t.Context()); err != nil {
		t.Fatalf("1回目のキュー処理に失敗: %v", err)
	}

	// 直後の再トリガーは拒否される
	if _, err := worker.TriggerProcess(t.Context()); !errors.Is(err, ErrTooSoon) {
		t.Errorf("err = %v, want ErrTooSoon", err)
	}

	// 最小間隔の経過後は再び実行できる
	advanceWorkerClock(worker, 61*time.Second)
	if _, err := worker.TriggerProcess(t.Context()); err != nil {
		t.Errorf("間隔経過後のキュー処理が失敗した: %v", err)
	}
}
