// Package server はfestifyのHTTPサーバーを組み立てる。
//
// SQLiteの接続とスキーマ適用、SSEレジストリ・レート制限・プッシュ送信
// クライアントの構築、各ハンドラのルーティング登録、配信ワーカーと
// 保持期限スイーパーの起動をここで行う。
package server
