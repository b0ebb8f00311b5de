package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/festify/internal/notification"
	"github.com/nao1215/festify/internal/queue"
	"github.com/nao1215/festify/internal/stream"
	"github.com/nao1215/festify/internal/team"
	"github.com/nao1215/festify/pkg/middleware"
	"github.com/nao1215/festify/pkg/push"
	"github.com/nao1215/festify/pkg/ratelimit"
)

// defaultTTLDays は通知と配信ジョブの保持日数のデフォルト値。
const defaultTTLDays = 30

// Server はfestifyのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// registry はSSE接続レジストリ。
	registry *stream.Registry
	// notifications は通知ストア。
	notifications *notification.Store
	// queueStore は配信キューストア。
	queueStore *queue.Store
	// worker は配信ワーカー。
	worker *queue.Worker
	// ttlDays は通知と配信ジョブの保持日数。
	ttlDays int
	// sweepCancel は保持期限スイーパーを停止するためのキャンセル関数。
	sweepCancel context.CancelFunc
}

// NewServer は新しいfestifyサーバーを生成する。
// SQLiteの初期化、スキーマ適用、各コンポーネントの構築とルーティング設定を行う。
// プッシュプロバイダのURLが設定されているのにサーバーキーがない場合は起動に失敗する。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("DB_PATH", "/data/festify.db")
	sqlDB, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := applySchemas(sqlDB); err != nil {
		return nil, err
	}

	sender, err := newPushSender()
	if err != nil {
		return nil, err
	}

	ttlDays := defaultTTLDays
	if raw := os.Getenv("NOTIFICATION_TTL_DAYS"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("NOTIFICATION_TTL_DAYSが不正です: %q", raw)
		}
		ttlDays = parsed
	}

	s := build(sqlDB, port, sender, ttlDays)
	s.setupRoutes(
		getEnvOr("JWT_SECRET", "dev-secret-key"),
		getEnvOr("FRONTEND_URL", "http://localhost:3000"),
	)
	return s, nil
}

// build は各コンポーネントを構築してサーバーを組み立てる。
func build(sqlDB *sql.DB, port string, sender push.Sender, ttlDays int) *Server {
	queueStore := queue.NewStore(sqlDB)
	return &Server{
		router:        gin.New(),
		port:          port,
		db:            sqlDB,
		registry:      stream.NewRegistry(),
		notifications: notification.NewStore(sqlDB),
		queueStore:    queueStore,
		worker:        queue.NewWorker(queueStore, sender),
		ttlDays:       ttlDays,
	}
}

// applySchemas は全テーブルのスキーマを適用する。
func applySchemas(sqlDB *sql.DB) error {
	for _, initSchema := range []func(*sql.DB) error{
		notification.InitSchema,
		queue.InitSchema,
		team.InitSchema,
		ratelimit.InitSchema,
	} {
		if err := initSchema(sqlDB); err != nil {
			return fmt.Errorf("スキーマ初期化に失敗: %w", err)
		}
	}
	return nil
}

// newPushSender は環境変数からプッシュ送信クライアントを構築する。
// PUSH_PROVIDER_URLが未設定の場合は送信を行わないNopSenderを返す。
func newPushSender() (push.Sender, error) {
	providerURL := os.Getenv("PUSH_PROVIDER_URL")
	if providerURL == "" {
		log.Println("[Server] PUSH_PROVIDER_URLが未設定のためプッシュ送信を無効化します")
		return push.NopSender{}, nil
	}

	serverKey := os.Getenv("PUSH_SERVER_KEY")
	if serverKey == "" {
		return nil, errors.New("PUSH_PROVIDER_URLが設定されていますがPUSH_SERVER_KEYがありません")
	}
	return push.NewClient(providerURL, serverKey), nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret, frontendURL string) {
	s.router.Use(middleware.Recovery())
	s.router.Use(gin.Logger())
	s.router.Use(middleware.CORS([]string{frontendURL}))

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	s.registerHandlers(api)

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "festify"})
	})
}

// registerHandlers は各コンポーネントのハンドラをAPIグループに登録する。
func (s *Server) registerHandlers(api *gin.RouterGroup) {
	limiter := ratelimit.NewLimiter(s.db)

	stream.NewHandler(s.registry, limiter).RegisterRoutes(api)
	notification.NewHandler(s.notifications, s.registry, limiter, s.queueStore).RegisterRoutes(api)
	queue.NewHandler(s.queueStore, s.worker).RegisterRoutes(api)

	teamStore := team.NewStore(s.db)
	protocol := team.NewProtocol(teamStore, s.notifications, s.queueStore, s.registry)
	team.NewHandler(protocol, limiter).RegisterRoutes(api)
}

// Run は配信ワーカーと保持期限スイーパーを起動し、HTTPサーバーを開始する。
func (s *Server) Run() error {
	ctx := context.Background()
	s.worker.Start(ctx)
	s.startSweeper(ctx)
	defer s.Stop()

	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Stop はバックグラウンド処理を停止する。
func (s *Server) Stop() {
	s.worker.Stop()
	if s.sweepCancel != nil {
		s.sweepCancel()
	}
}

// startSweeper は保持期限を過ぎた通知と配信ジョブを定期的に削除する
// バックグラウンドゴルーチンを起動する。起動直後に1回実行し、以降は1日ごとに実行する。
func (s *Server) startSweeper(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.sweepCancel = cancel

	go func() {
		log.Printf("[Server] 保持期限スイーパーを開始します（保持日数: %d日）", s.ttlDays)
		s.sweep(ctx)

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[Server] 保持期限スイーパーを停止しました")
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// sweep は保持期限を過ぎた通知と配信ジョブを削除する。
func (s *Server) sweep(ctx context.Context) {
	deletedNotifications, err := s.notifications.DeleteExpired(ctx, s.ttlDays)
	if err != nil {
		log.Printf("[Server] 期限切れ通知の削除に失敗: %v", err)
	}
	deletedJobs, err := s.queueStore.DeleteExpired(ctx, s.ttlDays)
	if err != nil {
		log.Printf("[Server] 期限切れジョブの削除に失敗: %v", err)
	}
	if deletedNotifications > 0 || deletedJobs > 0 {
		log.Printf("[Server] 保持期限スイープ完了: 通知%d件, ジョブ%d件を削除", deletedNotifications, deletedJobs)
	}
}

// getEnvOr は環境変数の値を返す。未設定の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
