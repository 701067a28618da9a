package handlers

import (
	"time"

	"chatserver/chat"
	"chatserver/internal/websocket"
	"chatserver/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterDeps は管理用 HTTP サーバーが参照する依存関係です。Results と Presence は nil でもよい。
type RouterDeps struct {
	Chat           *chat.Server
	Transfers      TransferStatus
	Results        ResultReader
	Presence       PresenceReader
	AllowedOrigins []string
}

// SetupRouter builds the admin/status router, including the WebSocket endpoint.
func SetupRouter(deps RouterDeps, logger *zap.Logger) *gin.Engine {
	started := time.Now()
	upgrader := websocket.NewUpgrader(deps.AllowedOrigins)

	router := gin.New()
	//リクエストロガーを起動
	router.Use(gin.Recovery(), utils.RequestLogger(logger))

	//CORS（Cross-Origin Resource Sharing）ポリシーを設定
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(deps.AllowedOrigins) == 0 || containsWildcard(deps.AllowedOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = deps.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		HealthHandler(c, deps.Chat, started)
	})
	router.GET("/users", func(c *gin.Context) {
		UsersHandler(c, deps.Chat)
	})
	router.GET("/games", func(c *gin.Context) {
		GamesHandler(c, deps.Chat)
	})
	router.GET("/transfers", func(c *gin.Context) {
		TransfersHandler(c, deps.Transfers)
	})
	router.GET("/results", func(c *gin.Context) {
		ResultsHandler(c, deps.Results, logger)
	})
	router.GET("/presence", func(c *gin.Context) {
		PresenceHandler(c, deps.Presence, logger)
	})
	router.GET("/ws", func(c *gin.Context) {
		websocket.HandleConnections(c.Writer, c.Request, deps.Chat, upgrader, logger)
	})
	return router
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
