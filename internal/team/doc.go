// Package team はチーム招待のプロトコルと参加名簿を提供する。
//
// チームリーダーが参加者を招待すると、未確定の参加行と応答待ちの
// TEAM_INVITE通知が同時に作られる。招待されたユーザーの応答（承諾・辞退）は
// 参加行の確定・削除に反映され、結果はTEAM_INVITE_RESPONSE通知として
// リーダーに届く。参加名簿のスキーマはマイグレーションで管理する。
package team
