// Package notification は通知ストアを提供する。
//
// 通知はユーザーごとの永続的な受信箱としてSQLiteに保存され、
// 一覧取得・未読管理・既読化・整理（クリア）のHTTP APIを公開する。
// 通知の作成は内部API（管理者のみ）経由で行われ、作成と同時に
// プッシュ配信キューへの登録とSSEストリームへのライブ配信を行う。
package notification
