package utils

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ResultPurger は古いゲーム結果を削除できるストアです。
type ResultPurger interface {
	PurgeResults(ctx context.Context, before time.Time) (int64, error)
}

// CronCleaner は保存期間を過ぎたゲーム結果を毎日削除するジョブを起動します。
// 戻り値の Stop でスケジューラを止めます。
func CronCleaner(store ResultPurger, retention time.Duration, logger *zap.Logger) *cron.Cron {
	c := cron.New(cron.WithLogger(NewCronLogger(logger)))

	// 毎日3時に実行 ("分 時 日 月 曜日")
	_, err := c.AddFunc("0 3 * * *", func() {
		PurgeExpiredResults(store, retention, logger)
	})
	if err != nil {
		logger.Error("クーロンジョブの登録に失敗しました", zap.Error(err))
	}

	c.Start()
	return c
}

// PurgeExpiredResults は retention より古い結果を1回削除します。
func PurgeExpiredResults(store ResultPurger, retention time.Duration, logger *zap.Logger) int64 {
	logger.Info("古いゲーム結果の削除を開始")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := store.PurgeResults(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Error("ゲーム結果の削除に失敗しました", zap.Error(err))
		return 0
	}
	logger.Info("ゲーム結果の削除完了", zap.Int64("results_deleted", deleted))
	return deleted
}
