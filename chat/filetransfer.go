package chat

import (
	"strings"

	"chatserver/models"
	"chatserver/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// handleSendFile は受信者に TRANSFER_REQUEST を中継し、保留中リクエストとして記録します。
// セッションIDが空ならサーバー側で採番します。
func handleSendFile(c *Connection, msg protocol.Message) error {
	var req models.FileTransferRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	} else {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			return &protocol.ParseError{Type: msg.Type, Err: err}
		}
		req.SessionID = id.String()
	}

	target, ok := c.peer(msg.Type, req.Receiver, protocol.StatusFileToSelf)
	if !ok {
		return nil
	}
	req.Sender = c.Username()
	target.addPendingTransfer(req)
	if err := target.send(protocol.TransferRequest, req); err != nil {
		c.logger.Debug("転送リクエストの中継に失敗しました", zap.Error(err))
	}

	c.logger.Info("ファイル転送をリクエストしました",
		zap.String("receiver", req.Receiver),
		zap.String("session_id", req.SessionID),
		zap.String("filename", req.Filename),
	)
	c.ok(msg.Type, req.SessionID)
	return nil
}

// handleTransferResponse relays the receiver's decision back to the original sender.
func handleTransferResponse(c *Connection, msg protocol.Message) error {
	var resp models.FileTransferResponse
	if err := msg.Decode(&resp); err != nil {
		return err
	}
	if resp.SessionID != "" {
		if id, err := uuid.Parse(resp.SessionID); err == nil {
			resp.SessionID = id.String()
		}
	}

	req, ok := c.takePendingTransfer(resp.SessionID)
	if !ok {
		c.fail(msg.Type, protocol.StatusNoTransferWaiting)
		return nil
	}
	sender, ok := c.server.registry.Lookup(req.Sender)
	if !ok {
		c.notFound(msg.Type, "User", req.Sender)
		return nil
	}

	event := models.FileTransferResponse{Status: resp.Status, Sender: req.Sender, Receiver: c.Username(), SessionID: req.SessionID}
	if err := sender.send(protocol.TransferResponse, event); err != nil {
		c.logger.Debug("転送レスポンスの中継に失敗しました", zap.Error(err))
	}
	c.ok(msg.Type, req.SessionID)
	return nil
}
