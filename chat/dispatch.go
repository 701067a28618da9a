package chat

import (
	"errors"

	"chatserver/protocol"

	"go.uber.org/zap"
)

// errLeave はクライアントが LEAVE を送ったことを表します。
var errLeave = errors.New("client left")

// handlerFunc returns an error only when the session must end. Anything the client
// should hear about is sent as a RESPONSE instead; *protocol.ParseError becomes PARSE_ERROR.
type handlerFunc func(c *Connection, msg protocol.Message) error

type route struct {
	guarded bool // ログイン必須
	handle  handlerFunc
}

var routes = map[string]route{
	protocol.Login:            {handle: handleLogin},
	protocol.Pong:             {handle: handlePong},
	protocol.Leave:            {handle: handleLeave},
	protocol.Broadcast:        {guarded: true, handle: handleBroadcast},
	protocol.Private:          {guarded: true, handle: handlePrivate},
	protocol.List:             {guarded: true, handle: handleList},
	protocol.GameLaunch:       {guarded: true, handle: handleGameLaunch},
	protocol.GameJoin:         {guarded: true, handle: handleGameJoin},
	protocol.GameGuess:        {guarded: true, handle: handleGameGuess},
	protocol.SendFile:         {guarded: true, handle: handleSendFile},
	protocol.TransferResponse: {guarded: true, handle: handleTransferResponse},
	protocol.PublicKeyReq:     {guarded: true, handle: handleKeyExchange},
	protocol.PublicKeyRes:     {guarded: true, handle: handleKeyExchange},
	protocol.SessionKey:       {guarded: true, handle: handleKeyExchange},
	protocol.SecureReady:      {guarded: true, handle: handleKeyExchange},
	protocol.Secure:           {guarded: true, handle: handleSecure},
}

func (c *Connection) dispatch(line string) error {
	msg, err := protocol.Parse(line)
	if err != nil {
		// 空行は無視
		return nil
	}

	r, ok := routes[msg.Type]
	if !ok {
		c.logger.Debug("不明なメッセージタイプ", zap.String("type", msg.Type))
		c.Notify(protocol.UnknownAction, nil)
		return nil
	}
	if r.guarded && c.Username() == "" {
		c.fail(msg.Type, protocol.StatusNotLoggedIn)
		return nil
	}

	err = r.handle(c, msg)
	var parseErr *protocol.ParseError
	if errors.As(err, &parseErr) {
		c.logger.Debug("ペイロードを解析できません", zap.Error(err))
		c.Notify(protocol.ParseFailure, nil)
		return nil
	}
	return err
}
