// Package queue はプッシュ通知の配信キューとバックグラウンドワーカーを提供する。
//
// 通知の作成時に配信ジョブがキューに積まれ、ワーカーが定期的に未送信分を
// まとめて処理する。デバイストークンは送信時点で解決されるため、
// ジョブ登録後に登録されたデバイスには送信されない。送信に失敗したジョブは
// PENDINGのまま残り、次回の処理で再試行される（失敗回数の上限は設けない）。
package queue
