// Package httpclient は外部サービスとのHTTP通信を行うクライアントを提供する。
//
// プッシュ配信プロバイダへの通知送信など、外部APIの呼び出しパターンを統一する。
// APIキー等の固定ヘッダーとタイムアウトをオプションで設定できる。
package httpclient
