package models

import (
	"gorm.io/gorm"
)

// GameResult モデルの定義 (終了したロビー1件)
type GameResult struct {
	gorm.Model
	Lobby      string      `gorm:"index;not null"`
	Outcome    string      `gorm:"not null"` // "finished" または "failed"
	Players    int         `gorm:"not null"`
	Winner     string      // 最速の正解者。失敗時は空
	StartedAt  int64       // ELAPSED 開始時刻 (unix ms)
	FinishedAt int64       `gorm:"index"`
	Scores     []GameScore `gorm:"foreignKey:GameResultID;constraint:OnDelete:CASCADE"`
}

// リーダーボードは別テーブルで管理
type GameScore struct {
	gorm.Model
	GameResultID uint   `gorm:"index"`
	Username     string `gorm:"not null"`
	ElapsedMs    int64  `gorm:"not null"`
	Rank         int    `gorm:"not null"`
}
