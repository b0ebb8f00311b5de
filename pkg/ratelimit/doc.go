// Package ratelimit は通知系エンドポイントを保護するレートリミッタを提供する。
//
// 用途（通知送信・一括送信・チーム招待・ストリーム接続）ごとに独立した
// スライディングウィンドウカウンタを持ち、SQLiteで永続化する。
// カウンタの保存先が利用できない場合は許可側に倒す（フェイルオープン）。
package ratelimit
