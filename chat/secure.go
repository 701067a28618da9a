package chat

import (
	"chatserver/models"
	"chatserver/protocol"

	"go.uber.org/zap"
)

// handleKeyExchange relays PUBLIC_KEY_REQ, PUBLIC_KEY_RES, SESSION_KEY and SECURE_READY.
// 鍵の中身には触れず、username を実際の送信者に書き換えて転送します。
// 成功時は返信しません。
func handleKeyExchange(c *Connection, msg protocol.Message) error {
	var req models.KeyExchange
	if err := msg.Decode(&req); err != nil {
		return err
	}
	target, ok := c.peer(msg.Type, req.Username, protocol.StatusSecureToSelf)
	if !ok {
		return nil
	}

	req.Username = c.Username()
	if err := target.send(msg.Type, req); err != nil {
		c.logger.Debug("鍵交換メッセージの中継に失敗しました", zap.String("type", msg.Type), zap.Error(err))
	}
	return nil
}

func handleSecure(c *Connection, msg protocol.Message) error {
	var req models.SecureMessage
	if err := msg.Decode(&req); err != nil {
		return err
	}
	target, ok := c.peer(msg.Type, req.Username, protocol.StatusSecureToSelf)
	if !ok {
		return nil
	}

	req.Username = c.Username()
	if err := target.send(protocol.Secure, req); err != nil {
		c.logger.Debug("暗号化メッセージの中継に失敗しました", zap.Error(err))
	}
	c.ok(msg.Type, protocol.StatusText(protocol.StatusOK))
	return nil
}
