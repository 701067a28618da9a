package main

import (
	"os"

	"chatserver/database"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ゲーム結果テーブルを作成する単体のマイグレーション。
// 使い方: go run ./migrations [config.json]
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	configFile := "config.json"
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}
	config, err := database.LoadConfig(viper.New(), configFile)
	if err != nil {
		logger.Fatal("設定ファイルの読み込みに失敗しました", zap.Error(err))
	}
	if config.DBHost == "" {
		logger.Fatal("db_host が設定されていません")
	}

	db, err := database.InitPostgreSQL(config, logger)
	if err != nil {
		logger.Fatal("PostgreSQLの初期化に失敗しました", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("マイグレーションに失敗しました", zap.Error(err))
	}

	// 削除ジョブ用の複合インデックス
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_game_results_outcome_finished ON game_results (outcome, finished_at)").Error; err != nil {
		logger.Fatal("インデックスの作成に失敗しました", zap.Error(err))
	}
	logger.Info("game_results / game_scores テーブルを作成しました")
}
