// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、運営ロールの確認、パニックリカバリ、
// CORS設定など、全エンドポイントで共通して使用するミドルウェアを含む。
package middleware
