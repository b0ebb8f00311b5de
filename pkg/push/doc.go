// Package push はプッシュ配信プロバイダのクライアントを提供する。
//
// 配信キューのワーカーが端末トークン宛にプッシュ通知を送信するために使用する。
// プロバイダ呼び出しの失敗はリトライ可能なエラーとして呼び出し元に返す。
package push
