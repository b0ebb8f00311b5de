// festifyサーバーのエントリポイント。
// 技術祭のリアルタイム通知配信とチーム招待をひとつのプロセスで提供する。
// SSEストリーム・通知ストア・プッシュ配信キュー・チーム招待プロトコルを起動する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/festify/internal/server"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv, err := server.NewServer(port)
	if err != nil {
		log.Fatalf("festifyサーバーの初期化に失敗: %v", err)
	}
	defer srv.Stop()

	log.Printf("festifyサーバーを起動します: :%s", port)
	if err := srv.Run(); err != nil {
		log.Fatalf("festifyサーバーの起動に失敗: %v", err)
	}
}
