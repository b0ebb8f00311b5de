package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client は外部サービスとのHTTP通信を行うクライアント。
// プッシュ配信プロバイダ等の外部APIの呼び出しに使用する。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
	// headers はすべてのリクエストに付与する固定ヘッダー。
	headers map[string]string
}

// Option はClientの生成オプション。
type Option func(*Client)

// WithHeader はすべてのリクエストに付与する固定ヘッダーを設定する。
// プッシュ配信プロバイダのAPIキー等の認証情報に使用する。
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithTimeout はHTTPリクエストのタイムアウトを設定する。
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// New は新しい外部サービス通信用HTTPクライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "https://fcm.googleapis.com"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。resultがnilの場合は読み捨てる。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTPエラー: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}
