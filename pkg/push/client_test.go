package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestClientSend はClient.Sendを検証する。
func TestClientSend(t *testing.T) {
	t.Parallel()

	t.Run("正常にプッシュ通知を送信できること", func(t *testing.T) {
		t.Parallel()

		var receivedBody []byte
		var receivedAuth string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedBody, _ = io.ReadAll(r.Body)
			receivedAuth = r.Header.Get("Authorization")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success":1,"failure":0}`))
		}))
		t.Cleanup(ts.Close)

		client := NewClient(ts.URL, "test-server-key")
		err := client.Send(context.Background(), "device-token-1", "結果発表", "ハッカソンの結果が発表されました", map[string]string{"event_id": "event-1"})
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}

		// APIキーがヘッダーに付与されていること
		if receivedAuth != "key=test-server-key" {
			t.Errorf("Authorization = %q, want %q", receivedAuth, "key=test-server-key")
		}

		// リクエストボディの検証
		var req sendRequest
		if err := json.Unmarshal(receivedBody, &req); err != nil {
			t.Fatalf("リクエストボディのパースに失敗: %v", err)
		}
		if req.To != "device-token-1" {
			t.Errorf("To = %q, want %q", req.To, "device-token-1")
		}
		if req.Notification.Title != "結果発表" {
			t.Errorf("Title = %q, want %q", req.Notification.Title, "結果発表")
		}
		if req.Data["event_id"] != "event-1" {
			t.Errorf("Data.event_id = %q, want %q", req.Data["event_id"], "event-1")
		}
	})

	t.Run("プロバイダがHTTPエラーを返した場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(ts.Close)

		client := NewClient(ts.URL, "test-server-key")
		err := client.Send(context.Background(), "device-token-1", "テスト", "本文", nil)
		if err == nil {
			t.Fatal("Send()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("プロバイダが送信失敗を報告した場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success":0,"failure":1}`))
		}))
		t.Cleanup(ts.Close)

		client := NewClient(ts.URL, "test-server-key")
		err := client.Send(context.Background(), "expired-token", "テスト", "本文", nil)
		if err == nil {
			t.Fatal("Send()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("キャンセルされたコンテキストでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"success":1,"failure":0}`))
		}))
		t.Cleanup(ts.Close)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := NewClient(ts.URL, "test-server-key")
		if err := client.Send(ctx, "device-token-1", "テスト", "本文", nil); err == nil {
			t.Fatal("Send()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestNopSender はNopSenderが常に成功することを検証する。
func TestNopSender(t *testing.T) {
	t.Parallel()

	var sender NopSender
	if err := sender.Send(context.Background(), "token", "タイトル", "本文", nil); err != nil {
		t.Errorf("NopSender.Send()でエラーが発生: %v", err)
	}
}
