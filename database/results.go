package database

import (
	"context"
	"fmt"
	"time"

	"chatserver/internal/game"
	"chatserver/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResultStore はゲーム結果を PostgreSQL に保存します。
type ResultStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewResultStore(db *gorm.DB, logger *zap.Logger) *ResultStore {
	return &ResultStore{db: db, logger: logger}
}

// SaveResult stores one finished or failed game together with its leaderboard.
func (s *ResultStore) SaveResult(ctx context.Context, res game.Result) error {
	record := models.GameResult{
		Lobby:      res.Lobby,
		Outcome:    "finished",
		Players:    res.Players,
		FinishedAt: res.FinishedAt.UnixMilli(),
	}
	if res.Failed {
		record.Outcome = "failed"
	}
	if !res.StartedAt.IsZero() {
		record.StartedAt = res.StartedAt.UnixMilli()
	}
	for i, score := range res.Leaderboard {
		if i == 0 {
			record.Winner = score.Username
		}
		record.Scores = append(record.Scores, models.GameScore{
			Username:  score.Username,
			ElapsedMs: score.Time,
			Rank:      i + 1,
		})
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("ゲーム結果の保存に失敗しました: %w", err)
	}
	s.logger.Info("ゲーム結果を保存しました", zap.String("lobby", res.Lobby), zap.Uint("id", record.ID))
	return nil
}

// RecentResults は新しい順に最大 limit 件返します。
func (s *ResultStore) RecentResults(ctx context.Context, limit int) ([]models.GameResult, error) {
	var results []models.GameResult
	err := s.db.WithContext(ctx).
		Preload("Scores", func(db *gorm.DB) *gorm.DB { return db.Order("rank ASC") }).
		Order("finished_at DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("ゲーム結果の取得に失敗しました: %w", err)
	}
	return results, nil
}

// PurgeResults deletes results that finished before the given time.
func (s *ResultStore) PurgeResults(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.GameResult{}).
			Where("finished_at < ?", before.UnixMilli()).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Unscoped().Where("game_result_id IN ?", ids).Delete(&models.GameScore{}).Error; err != nil {
			return err
		}
		result := tx.Unscoped().Where("id IN ?", ids).Delete(&models.GameResult{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("ゲーム結果の削除に失敗しました: %w", err)
	}
	return deleted, nil
}
