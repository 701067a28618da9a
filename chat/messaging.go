package chat

import (
	"errors"
	"regexp"
	"strings"

	"chatserver/models"
	"chatserver/protocol"

	"go.uber.org/zap"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,14}$`)

// ValidUsername はユーザー名の形式をチェックします。
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

func handleLogin(c *Connection, msg protocol.Message) error {
	var req models.LoginRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if c.Username() != "" {
		c.fail(msg.Type, protocol.StatusAlreadyLoggedIn)
		return nil
	}
	if !ValidUsername(req.Username) {
		c.fail(msg.Type, protocol.StatusInvalidUsername)
		return nil
	}

	switch err := c.server.registry.Login(c, req.Username); {
	case errors.Is(err, ErrAlreadyLoggedIn):
		c.fail(msg.Type, protocol.StatusAlreadyLoggedIn)
		return nil
	case errors.Is(err, ErrUsernameTaken):
		c.fail(msg.Type, protocol.StatusUsernameTaken)
		return nil
	case err != nil:
		return err
	}

	c.logger.Info("ログインしました", zap.String("username", req.Username))
	c.ok(msg.Type, protocol.StatusText(protocol.StatusOK))
	c.server.broadcastExcept(c, protocol.Arrived, models.UserEvent{Username: req.Username})
	c.startHeartbeat()
	c.server.presenceAdd(req.Username)
	return nil
}

// handlePong は PING を送っていないときの PONG をエラーとして返します。
func handlePong(c *Connection, msg protocol.Message) error {
	if !c.alive.CompareAndSwap(false, true) {
		c.fail(msg.Type, protocol.StatusPongWithoutPing)
	}
	return nil
}

func handleLeave(c *Connection, msg protocol.Message) error {
	c.ok(msg.Type, "Goodbye")
	return errLeave
}

func handleBroadcast(c *Connection, msg protocol.Message) error {
	var req models.TextMessage
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Message) == "" {
		c.fail(msg.Type, protocol.StatusEmptyMessage)
		return nil
	}

	c.server.broadcastExcept(c, protocol.Broadcast, models.TextMessage{Username: c.Username(), Message: req.Message})
	c.ok(msg.Type, protocol.StatusText(protocol.StatusOK))
	return nil
}

func handlePrivate(c *Connection, msg protocol.Message) error {
	var req models.TextMessage
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Message) == "" {
		c.fail(msg.Type, protocol.StatusEmptyMessage)
		return nil
	}

	target, ok := c.peer(msg.Type, req.Username, protocol.StatusPrivateToSelf)
	if !ok {
		return nil
	}
	if err := target.send(protocol.Private, models.TextMessage{Username: c.Username(), Message: req.Message}); err != nil {
		c.logger.Debug("プライベートメッセージの送信に失敗しました", zap.Error(err))
	}
	c.ok(msg.Type, protocol.StatusText(protocol.StatusOK))
	return nil
}

func handleList(c *Connection, msg protocol.Message) error {
	c.ok(msg.Type, c.server.registry.Usernames())
	return nil
}

// peer は宛先ユーザーを探します。自分宛てなら selfStatus、見つからなければ 711 を返信します。
func (c *Connection) peer(command, username string, selfStatus int) (*Connection, bool) {
	if username == c.Username() {
		c.fail(command, selfStatus)
		return nil, false
	}
	target, ok := c.server.registry.Lookup(username)
	if !ok {
		c.notFound(command, "User", username)
		return nil, false
	}
	return target, true
}
