package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nao1215/festify/pkg/push"
)

// processLimit は1回の処理で取り出す未送信ジョブの最大件数。
const processLimit = 50

// ErrTooSoon は前回の処理から最小間隔が経過していないことを表す。
var ErrTooSoon = errors.New("前回のキュー処理から十分な時間が経過していません")

// Worker は配信キューを定期的に処理するバックグラウンドプロセス。
// 定期実行と手動トリガー（内部API）の両方が同じ最小間隔ゲートを通る。
type Worker struct {
	// store は配信キューのクエリ実行オブジェクト。
	store *Store
	// sender はプッシュ通知の送信クライアント。
	sender push.Sender
	// interval は定期処理の間隔。
	interval time.Duration
	// minTrigger は処理と処理の間に空けるべき最小間隔。
	minTrigger time.Duration
	// mu はlastRunへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// lastRun は最後に処理を開始した時刻。
	lastRun time.Time
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
	// cancel はバックグラウンドゴルーチンを停止するためのキャンセル関数。
	cancel context.CancelFunc
}

// NewWorker は新しい配信ワーカーを生成する。
func NewWorker(store *Store, sender push.Sender) *Worker {
	return &Worker{
		store:      store,
		sender:     sender,
		interval:   time.Minute,
		minTrigger: time.Minute,
		now:        time.Now,
	}
}

// Start はバックグラウンドで配信キューの定期処理を開始する。
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go func() {
		log.Println("Worker: 配信キューの定期処理を開始します")
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("Worker: 定期処理を停止しました")
				return
			case <-ticker.C:
				sent, err := w.TriggerProcess(ctx)
				switch {
				case errors.Is(err, ErrTooSoon):
					// 手動トリガーの直後は次の周期まで待つ
				case err != nil:
					log.Printf("Worker: キュー処理エラー: %v", err)
				case sent > 0:
					log.Printf("Worker: %d件のジョブを送信しました", sent)
				}
			}
		}
	}()
}

// Stop はバックグラウンドの定期処理を停止する。
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// TriggerProcess は最小間隔ゲートを通してキュー処理を実行し、送信済みにした件数を返す。
// 前回の処理からminTrigger未満の場合はErrTooSoonを返す。
func (w *Worker) TriggerProcess(ctx context.Context) (int, error) {
	w.mu.Lock()
	now := w.now()
	if now.Sub(w.lastRun) < w.minTrigger {
		w.mu.Unlock()
		return 0, ErrTooSoon
	}
	w.lastRun = now
	w.mu.Unlock()

	return w.processQueue(ctx)
}

// processQueue は未送信ジョブをまとめて処理する。
// ジョブごとに独立して送信を試み、1件の失敗が他のジョブの処理を妨げない。
func (w *Worker) processQueue(ctx context.Context) (int, error) {
	items, err := w.store.ListPending(ctx, processLimit)
	if err != nil {
		return 0, fmt.Errorf("未送信ジョブの取得に失敗: %w", err)
	}

	sent := 0
	for _, item := range items {
		if err := w.processItem(ctx, item); err != nil {
			log.Printf("Worker: ジョブ処理エラー (id=%s, attempts=%d): %v", item.ID, item.Attempts+1, err)
			if recordErr := w.store.RecordFailure(ctx, item.ID, err.Error()); recordErr != nil {
				log.Printf("Worker: 送信失敗の記録に失敗 (id=%s): %v", item.ID, recordErr)
			}
			continue
		}
		if err := w.store.MarkSent(ctx, item.ID); err != nil {
			log.Printf("Worker: 送信済み化に失敗 (id=%s): %v", item.ID, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// processItem は1件のジョブを処理する。デバイストークンは送信時点で解決する。
// 登録済みデバイスがない場合は送る先がないため成功として扱う。
func (w *Worker) processItem(ctx context.Context, item *Item) error {
	tokens, err := w.store.ListTokensByUser(ctx, item.UserID)
	if err != nil {
		return fmt.Errorf("デバイストークンの解決に失敗: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	data := metadataToData(item.Metadata)
	var firstErr error
	for _, token := range tokens {
		if err := w.sender.Send(ctx, token, item.Title, item.Body, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// metadataToData は通知メタデータのJSONをプッシュ通知のデータペイロードに変換する。
// 解析できない場合はペイロードなしで送信する。
func metadataToData(metadata string) map[string]string {
	var raw map[string]any
	if err := json.Unmarshal([]byte(metadata), &raw); err != nil || len(raw) == 0 {
		return nil
	}
	data := make(map[string]string, len(raw))
	for key, value := range raw {
		data[key] = fmt.Sprintf("%v", value)
	}
	return data
}
