package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"chatserver/internal/game"
	"chatserver/internal/transfer"
	"chatserver/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultResultLimit = 20
	maxResultLimit     = 100
)

// ChatStatus はチャットサーバーの現在の状態を返します。
type ChatStatus interface {
	OnlineUsers() []string
	ActiveGames() []game.Info
	ConnectionCount() int
}

type TransferStatus interface {
	Stats() transfer.Stats
}

type ResultReader interface {
	RecentResults(ctx context.Context, limit int) ([]models.GameResult, error)
}

type PresenceReader interface {
	Members(ctx context.Context) ([]string, error)
}

// HealthHandler reports liveness and a few counters.
func HealthHandler(c *gin.Context, chat ChatStatus, started time.Time) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": chat.ConnectionCount(),
		"users":       len(chat.OnlineUsers()),
		"games":       len(chat.ActiveGames()),
		"uptime":      time.Since(started).Round(time.Second).String(),
	})
}

// UsersHandler はログイン中のユーザー名をアルファベット順で返します。
func UsersHandler(c *gin.Context, chat ChatStatus) {
	c.JSON(http.StatusOK, gin.H{"users": chat.OnlineUsers()})
}

func GamesHandler(c *gin.Context, chat ChatStatus) {
	c.JSON(http.StatusOK, gin.H{"games": chat.ActiveGames()})
}

func TransfersHandler(c *gin.Context, broker TransferStatus) {
	c.JSON(http.StatusOK, broker.Stats())
}

// ResultsHandler は保存済みのゲーム結果を新しい順に返します。?limit= で件数を指定できます。
func ResultsHandler(c *gin.Context, store ResultReader, logger *zap.Logger) {
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Result archive is not configured"})
		return
	}

	limit := defaultResultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		if n > maxResultLimit {
			n = maxResultLimit
		}
		limit = n
	}

	results, err := store.RecentResults(c.Request.Context(), limit)
	if err != nil {
		logger.Error("Failed to retrieve game results", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve game results"})
		return
	}

	response := make([]gin.H, 0, len(results))
	for _, result := range results {
		scores := make([]gin.H, 0, len(result.Scores))
		for _, score := range result.Scores {
			scores = append(scores, gin.H{
				"rank":     score.Rank,
				"username": score.Username,
				"time":     score.ElapsedMs,
			})
		}
		response = append(response, gin.H{
			"id":         result.ID,
			"lobby":      result.Lobby,
			"outcome":    result.Outcome,
			"players":    result.Players,
			"winner":     result.Winner,
			"startedAt":  result.StartedAt,
			"finishedAt": result.FinishedAt,
			"scores":     scores,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": response})
}

// PresenceHandler returns the users mirrored into Redis.
func PresenceHandler(c *gin.Context, presence PresenceReader, logger *zap.Logger) {
	if presence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Presence store is not configured"})
		return
	}
	members, err := presence.Members(c.Request.Context())
	if err != nil {
		logger.Error("Failed to read presence", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read presence"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": members})
}
