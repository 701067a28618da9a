package chat

import (
	"errors"

	"chatserver/protocol"

	"go.uber.org/zap"
)

// broadcastExcept sends to every logged-in user except the given connection.
func (s *Server) broadcastExcept(except *Connection, msgType string, payload any) {
	s.broadcastWhere(func(c *Connection) bool { return c != except }, msgType, payload)
}

// broadcastWhere はレジストリのスナップショットの各 outbox に積みます。
// 遅い相手を待たないので、キューが溢れた相手は切断します。
func (s *Server) broadcastWhere(include func(*Connection) bool, msgType string, payload any) {
	line, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.logger.Error("メッセージのエンコードに失敗しました", zap.String("type", msgType), zap.Error(err))
		return
	}

	for _, peer := range s.registry.Users() {
		if !include(peer) {
			continue
		}
		err := peer.enqueue(line, false)
		if errors.Is(err, errOutboxFull) {
			s.logger.Warn("送信キューが溢れたため切断します", zap.String("conn_id", peer.id))
			go peer.abandon()
			continue
		}
		if err != nil {
			s.logger.Debug("ブロードキャストの送信に失敗しました",
				zap.String("type", msgType),
				zap.String("conn_id", peer.id),
				zap.Error(err),
			)
		}
	}
}
