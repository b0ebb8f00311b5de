package queue

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// setupStore はテスト用の配信キューストアをインメモリSQLiteで構築する。
func setupStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}
	return NewStore(db)
}

// TestStoreEnqueue はジョブの登録と取得を検証する。
func TestStoreEnqueue(t *testing.T) {
	t.Parallel()

	t.Run("登録したジョブが未送信一覧に古い順で返る", func(t *testing.T) {
		t.Parallel()
		store := setupStore(t)

		base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
		for i, title := range []string{"最初のジョブ", "次のジョブ"} {
			offset := time.Duration(i) * time.Minute
			store.now = func() time.Time { return base.Add(offset) }
			if err := store.Enqueue(t.Context(), "user-1", title, "本文", ""); err != nil {
				t.Fatalf("ジョブの登録に失敗: %v", err)
			}
		}

		items, err := store.ListPending(t.Context(), 10)
		if err != nil {
			t.Fatalf("未送信一覧の取得に失敗: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("ジョブ数 = %d, want 2", len(items))
		}
		if items[0].Title != "最初のジョブ" || items[1].Title != "次のジョブ" {
			t.Errorf("並び順が不正: got [%s, %s]", items[0].Title, items[1].Title)
		}
		if items[0].Status != StatusPending {
			t.Errorf("Status = %q, want %q", items[0].Status, StatusPending)
		}
		if items[0].Metadata != "{}" {
			t.Errorf("Metadata = %q, want {}", items[0].Metadata)
		}
	})

	t.Run("limitを超えるジョブは返らない", func(t *testing.T) {
		t.Parallel()
		store := setupStore(t)

		for i := 0; i < 5; i++ {
			if err := store.Enqueue(t.Context(), "user-1", "タイトル", "本文", ""); err != nil {
				t.Fatalf("ジョブの登録に失敗: %v", err)
			}
		}

		items, err := store.ListPending(t.Context(), 3)
		if err != nil {
			t.Fatalf("未送信一覧の取得に失敗: %v", err)
		}
		if len(items) != 3 {
			t.Errorf("ジョブ数 = %d, want 3", len(items))
		}
	})
}

// TestStoreMarkSent は送信済み化を検証する。
func TestStoreMarkSent(t *testing.T) {
	t.Parallel()

	store := setupStore(t)

	if err := store.Enqueue(t.Context(), "user-1", "タイトル", "本文", ""); err != nil {
		t.Fatalf("ジョブの登録に失敗: %v", err)
	}
	items, err := store.ListPending(t.Context(), 10)
	if err != nil {
		t.Fatalf("未送信一覧の取得に失敗: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("ジョブ数 = %d, want 1", len(items))
	}

	if err := store.MarkSent(t.Context(), items[0].ID); err != nil {
		t.Fatalf("送信済み化に失敗: %v", err)
	}

	remaining, err := store.ListPending(t.Context(), 10)
	if err != nil {
		t.Fatalf("未送信一覧の取得に失敗: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("送信済み化後の未送信ジョブ数 = %d, want 0", len(remaining))
	}
}

// TestStoreRecordFailure は送信失敗の記録を検証する。
func TestStoreRecordFailure(t *testing.T) {
	t.Parallel()

	store := setupStore(t)

	if err := store.Enqueue(t.Context(), "user-1", "タイトル", "本文", ""); err != nil {
		t.Fatalf("ジョブの登録に失敗: %v", err)
	}
	items, err := store.ListPending(t.Context(), 10)
	if err != nil {
		t.Fatalf("未送信一覧の取得に失敗: %v", err)
	}

	if err := store.RecordFailure(t.Context(), items[0].ID, "プロバイダ接続失敗"); err != nil {
		t.Fatalf("失敗記録に失敗: %v", err)
	}
	if err := store.RecordFailure(t.Context(), items[0].ID, "プロバイダ接続失敗"); err != nil {
		t.Fatalf("失敗記録に失敗: %v", err)
	}

	// 失敗してもPENDINGのまま残り、試行回数と失敗理由が記録される
	after, err := store.ListPending(t.Context(), 10)
	if err != nil {
		t.Fatalf("未送信一覧の取得に失敗: %v", err)
	}
	if len(after) != 1 {
		t.Fatalf("ジョブ数 = %d, want 1", len(after))
	}
	if after[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", after[0].Attempts)
	}
	if after[0].LastError != "プロバイダ接続失敗" {
		t.Errorf("LastError = %q, want プロバイダ接続失敗", after[0].LastError)
	}
}

// TestStoreDeleteExpired は保持期限切れジョブの削除を検証する。
func TestStoreDeleteExpired(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	// 40日前の送信済みジョブと未送信ジョブ
	store.now = func() time.Time { return base.AddDate(0, 0, -40) }
	for i := 0; i < 2; i++ {
		if err := store.Enqueue(t.Context(), "user-1", "古いジョブ", "本文", ""); err != nil {
			t.Fatalf("ジョブの登録に失敗: %v", err)
		}
	}
	old, err := store.ListPending(t.Context(), 10)
	if err != nil {
		t.Fatalf("未送信一覧の取得に失敗: %v", err)
	}
	if err := store.MarkSent(t.Context(), old[0].ID); err != nil {
		t.Fatalf("送信済み化に失敗: %v", err)
	}

	store.now = func() time.Time { return base }
	deleted, err := store.DeleteExpired(t.Context(), 30)
	if err != nil {
		t.Fatalf("期限切れ削除に失敗: %v", err)
	}

	// 送信済みの古いジョブのみ削除され、未送信ジョブは残る
	if deleted != 1 {
		t.Errorf("削除件数 = %d, want 1", deleted)
	}
	remaining, err := store.ListPending(t.Context(), 10)
	if err != nil {
		t.Fatalf("未送信一覧の取得に失敗: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("残存する未送信ジョブ数 = %d, want 1", len(remaining))
	}
}

// TestStoreSubscriptions はデバイス購読の登録・解決・解除を検証する。
func TestStoreSubscriptions(t *testing.T) {
	t.Parallel()

	t.Run("登録したトークンをユーザーで解決できる", func(t *testing.T) {
		t.Parallel()
		store := setupStore(t)

		if err := store.Subscribe(t.Context(), "user-1", "token-a"); err != nil {
			t.Fatalf("購読登録に失敗: %v", err)
		}
		if err := store.Subscribe(t.Context(), "user-1", "token-b"); err != nil {
			t.Fatalf("購読登録に失敗: %v", err)
		}
		if err := store.Subscribe(t.Context(), "user-2", "token-c"); err != nil {
			t.Fatalf("購読登録に失敗: %v", err)
		}

		tokens, err := store.ListTokensByUser(t.Context(), "user-1")
		if err != nil {
			t.Fatalf("トークン解決に失敗: %v", err)
		}
		if len(tokens) != 2 {
			t.Errorf("トークン数 = %d, want 2", len(tokens))
		}
	})

	t.Run("同じトークンの再登録で所有者が付け替わる", func(t *testing.T) {
		t.Parallel()
		store := setupStore(t)

		if err := store.Subscribe(t.Context(), "user-1", "shared-token"); err != nil {
			t.Fatalf("購読登録に失敗: %v", err)
		}
		if err := store.Subscribe(t.Context(), "user-2", "shared-token"); err != nil {
			t.Fatalf("購読の再登録に失敗: %v", err)
		}

		tokens1, err := store.ListTokensByUser(t.Context(), "user-1")
		if err != nil {
			t.Fatalf("トークン解決に失敗: %v", err)
		}
		if len(tokens1) != 0 {
			t.Errorf("user-1のトークン数 = %d, want 0", len(tokens1))
		}
		tokens2, err := store.ListTokensByUser(t.Context(), "user-2")
		if err != nil {
			t.Fatalf("トークン解決に失敗: %v", err)
		}
		if len(tokens2) != 1 {
			t.Errorf("user-2のトークン数 = %d, want 1", len(tokens2))
		}
	})

	t.Run("購読解除は所有者のトークンのみ削除する", func(t *testing.T) {
		t.Parallel()
		store := setupStore(t)

		if err := store.Subscribe(t.Context(), "user-1", "token-a"); err != nil {
			t.Fatalf("購読登録に失敗: %v", err)
		}

		// 他ユーザーからの解除は何も削除しない
		deleted, err := store.Unsubscribe(t.Context(), "user-2", "token-a")
		if err != nil {
			t.Fatalf("購読解除に失敗: %v", err)
		}
		if deleted {
			t.Error("他ユーザーのトークンが削除された")
		}

		deleted, err = store.Unsubscribe(t.Context(), "user-1", "token-a")
		if err != nil {
			t.Fatalf("購読解除に失敗: %v", err)
		}
		if !deleted {
			t.Error("所有者のトークンが削除されなかった")
		}
	})
}
