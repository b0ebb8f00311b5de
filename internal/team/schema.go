package team

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/nao1215/festify/pkg/migration"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// InitSchema は参加名簿のマイグレーションを適用する。
func InitSchema(db *sql.DB) error {
	if err := migration.Run(db, migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("参加名簿マイグレーションの適用に失敗: %w", err)
	}
	return nil
}
