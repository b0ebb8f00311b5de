// Package stream はリアルタイム通知のSSE配信を提供する。
//
// ユーザーごとの接続レジストリがプロセス内の生きたストリームハンドルを管理し、
// 通知の作成元はレジストリ経由で接続中の全セッションにイベントを配信する。
// レジストリはプロセススコープであり、複数インスタンス構成での共有は行わない。
package stream
