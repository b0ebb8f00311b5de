package stream

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gin-contrib/sse"
	"github.com/google/uuid"

	"github.com/nao1215/festify/pkg/event"
)

const (
	// MaxConnectionsPerUser は1ユーザーが同時に開けるストリーム接続数の上限。
	// 上限到達時は最も古い接続を切断して新しい接続を受け入れる。
	MaxConnectionsPerUser = 3

	// handleBufferSize はハンドルごとの送信バッファサイズ。
	// バッファが溢れたハンドルは死んだコンシューマとみなして切り離す。
	handleBufferSize = 16
)

// Handle は1つのSSE接続に対応するストリームハンドル。
// レジストリが生成し、SSEハンドラがEvents()経由でイベントを受信する。
type Handle struct {
	// id はハンドルの一意識別子。
	id string
	// userID はハンドルの所有ユーザーのID。
	userID string
	// ch はハンドラに配信するイベントのバッファ付きチャネル。
	ch chan sse.Event
	// closed はハンドルが切断済みかどうか。所属ユーザーエントリのロック配下で読み書きする。
	closed bool
}

// Events はこのハンドル宛のイベントを受信するチャネルを返す。
// ハンドルが切断されるとチャネルはクローズされる。
func (h *Handle) Events() <-chan sse.Event {
	return h.ch
}

// userEntry は1ユーザー分のハンドル集合。
// handlesは接続順に並び、先頭が最も古い接続となる。
type userEntry struct {
	// mu はhandlesへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// handles はこのユーザーの生きたハンドルの一覧。
	handles []*Handle
}

// Registry はユーザーごとの生きたSSE接続を管理するプロセス内レジストリ。
// すべての状態変更はユーザーエントリ単位のロック配下で行い、
// 無関係なユーザー同士の配信が直列化されないようにする。
type Registry struct {
	// mu はconnsマップへの並行アクセスを保護するミューテックス。
	mu sync.RWMutex
	// conns はユーザーIDからハンドル集合へのマップ。
	conns map[string]*userEntry
}

// NewRegistry は新しい接続レジストリを生成する。
// プロセス起動時に一度だけ構築し、ハンドラに注入して使用する。
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*userEntry),
	}
}

// Open は指定ユーザーの新しいストリームハンドルを登録して返す。
// 接続数が上限に達している場合は最も古いハンドルを切断してから受け入れる。
func (r *Registry) Open(userID string) *Handle {
	handle := &Handle{
		id:     uuid.New().String(),
		userID: userID,
		ch:     make(chan sse.Event, handleBufferSize),
	}

	// エントリの削除（Close）と競合しないよう、マップのロックを保持したまま登録する
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[userID]
	if !ok {
		entry = &userEntry{}
		r.conns[userID] = entry
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// 上限到達時は最も古い接続から順に切断する
	for len(entry.handles) >= MaxConnectionsPerUser {
		oldest := entry.handles[0]
		entry.handles = entry.handles[1:]
		oldest.closed = true
		close(oldest.ch)
		log.Printf("[Stream] 接続数上限のため最古の接続を切断: user_id=%s, handle_id=%s", userID, oldest.id)
	}

	entry.handles = append(entry.handles, handle)
	return handle
}

// Close は指定ハンドルをレジストリから取り除く。
// 切断済みハンドルへの再呼び出しは何もしない。最後のハンドルが閉じられた
// ユーザーのエントリはマップからも削除する。
func (r *Registry) Close(handle *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[handle.userID]
	if !ok {
		return
	}

	entry.mu.Lock()
	if !handle.closed {
		handle.closed = true
		close(handle.ch)
		for i, h := range entry.handles {
			if h.id == handle.id {
				entry.handles = append(entry.handles[:i], entry.handles[i+1:]...)
				break
			}
		}
	}
	empty := len(entry.handles) == 0
	entry.mu.Unlock()

	if empty {
		delete(r.conns, handle.userID)
	}
}

// Publish は指定ユーザーの生きた全ハンドルにイベントを配信し、届いたハンドル数を返す。
// 接続が1つもないユーザーへの配信はエラーではなく0を返す。
// バッファが溢れたハンドルは死んだコンシューマとみなして切り離し、
// 残りのハンドルへの配信は継続する。
func (r *Registry) Publish(userID string, ev *event.StreamEvent) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Stream] ストリームイベントのシリアライズに失敗: %v", err)
		return 0
	}

	sseEvent := sse.Event{
		Event: string(ev.Kind),
		Data:  string(payload),
	}

	r.mu.RLock()
	entry, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	entry.mu.Lock()
	var delivered int
	var alive []*Handle
	for _, h := range entry.handles {
		if h.closed {
			continue
		}
		select {
		case h.ch <- sseEvent:
			delivered++
			alive = append(alive, h)
		default:
			// バッファ溢れ: 受信が止まったハンドルを切り離す
			h.closed = true
			close(h.ch)
			log.Printf("[Stream] 応答のない接続を切断: user_id=%s, handle_id=%s", userID, h.id)
		}
	}
	entry.handles = alive
	empty := len(entry.handles) == 0
	entry.mu.Unlock()

	if empty {
		r.removeEmptyEntry(userID)
	}
	return delivered
}

// ConnectionCount は指定ユーザーの生きた接続数を返す。
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	entry, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.handles)
}

// removeEmptyEntry はハンドルが空になったユーザーエントリをマップから削除する。
// 削除前にエントリが空のままであることを再確認する。
func (r *Registry) removeEmptyEntry(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[userID]
	if !ok {
		return
	}

	entry.mu.Lock()
	empty := len(entry.handles) == 0
	entry.mu.Unlock()

	if empty {
		delete(r.conns, userID)
	}
}
