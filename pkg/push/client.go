package push

import (
	"context"
	"fmt"
	"log"

	"github.com/nao1215/festify/pkg/httpclient"
)

// Sender はプッシュ通知の送信口を表すインターフェース。
// 配信キューのワーカーはこのインターフェース経由でプロバイダを呼び出す。
// テストではスタブ実装に差し替える。
type Sender interface {
	// Send は指定された端末トークン宛にプッシュ通知を送信する。
	// プロバイダ側のエラーはリトライ可能なエラーとして返す。
	Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

// Client はプッシュ配信プロバイダのHTTPクライアント。
// FCM互換のHTTP APIに対して送信リクエストを発行する。
type Client struct {
	// httpClient はプロバイダAPIへの通信クライアント。
	httpClient *httpclient.Client
}

// NewClient は新しいプッシュ配信クライアントを生成する。
// providerURLにはプロバイダのベースURL、serverKeyにはAPIキーを指定する。
func NewClient(providerURL, serverKey string) *Client {
	return &Client{
		httpClient: httpclient.New(providerURL,
			httpclient.WithHeader("Authorization", "key="+serverKey)),
	}
}

// sendRequest はプロバイダへの送信リクエストのJSON構造。
type sendRequest struct {
	// To は宛先の端末トークン。
	To string `json:"to"`
	// Notification は通知の表示内容。
	Notification sendNotification `json:"notification"`
	// Data は通知に付随する任意のキー・バリューデータ。
	Data map[string]string `json:"data,omitempty"`
}

// sendNotification は通知の表示内容のJSON構造。
type sendNotification struct {
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Body は通知の本文。
	Body string `json:"body"`
}

// sendResponse はプロバイダからの送信レスポンスのJSON構造。
type sendResponse struct {
	// Success は送信に成功した件数。
	Success int `json:"success"`
	// Failure は送信に失敗した件数。
	Failure int `json:"failure"`
}

// Send は指定された端末トークン宛にプッシュ通知を送信する。
func (c *Client) Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	req := sendRequest{
		To: deviceToken,
		Notification: sendNotification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	var resp sendResponse
	if err := c.httpClient.PostJSON(ctx, "/fcm/send", req, &resp); err != nil {
		return fmt.Errorf("プッシュ通知の送信に失敗: %w", err)
	}

	if resp.Failure > 0 {
		return fmt.Errorf("プロバイダが送信失敗を報告: success=%d, failure=%d", resp.Success, resp.Failure)
	}
	return nil
}

// NopSender は何も送信しないSender実装。
// プロバイダを設定しないローカル開発環境で使用する。
type NopSender struct{}

// Send は送信内容をログに出力するだけで、実際には送信しない。
func (NopSender) Send(_ context.Context, deviceToken, title, _ string, _ map[string]string) error {
	log.Printf("[Push] 送信スキップ（プロバイダ未設定）: token=%s, title=%s", deviceToken, title)
	return nil
}
