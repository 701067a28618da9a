package websocket

import (
	"net/http"

	"chatserver/chat"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// NewUpgrader は許可されたオリジンだけを受け付けるアップグレーダを返します。"*" は全許可。
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// HandleConnections upgrades the request and serves the chat protocol on it until the session ends.
func HandleConnections(w http.ResponseWriter, r *http.Request, srv *chat.Server, upgrader websocket.Upgrader, logger *zap.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade はエラー時に自分でレスポンスを書く
		logger.Error("Error upgrading WebSocket", zap.Error(err))
		return
	}

	cfg := srv.Config()
	client := NewClient(conn, cfg.MaxLineBytes, cfg.WriteTimeout)
	logger.Info("WebSocket client connected", zap.String("remote", client.RemoteAddr()))
	srv.ServeTransport(client)
	logger.Debug("WebSocket client finished", zap.String("remote", client.RemoteAddr()))
}
