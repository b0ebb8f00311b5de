package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// NewStreamEvent は新しいストリームイベントを生成する。
// payloadにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
// payloadが不要な場合はnilを渡す。
func NewStreamEvent(kind StreamKind, payload any) (*StreamEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("ペイロードのシリアライズに失敗: %w", err)
		}
		raw = data
	}

	return &StreamEvent{
		Kind:      kind,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// MarshalMetadata は通知メタデータをJSON文字列にシリアライズする。
// metadataがnilの場合は空のJSONオブジェクトを返す。
func MarshalMetadata(metadata any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("メタデータのシリアライズに失敗: %w", err)
	}
	return string(data), nil
}

// DecodeMetadata は通知のメタデータを指定された型にデシリアライズする。
// 通知の種類（NotificationType）に対応する型を指定すること。
func DecodeMetadata[T any](raw string) (*T, error) {
	var metadata T
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("メタデータのデシリアライズに失敗: %w", err)
	}
	return &metadata, nil
}
