package chat

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"chatserver/internal/game"
	"chatserver/models"
	"chatserver/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errConnClosed = errors.New("connection closed")
	errOutboxFull = errors.New("outbox full")
	defaultOutbox = 256
)

// Connection は1つのソケットに対応するセッションです。
// 書き込みはすべて outbox を通り、専用のゴルーチンが順番に送ります。
type Connection struct {
	id        string
	server    *Server
	transport Transport
	logger    *zap.Logger

	mu        sync.Mutex
	username  string
	game      *game.Game
	pending   []models.FileTransferRequest
	heartbeat *heartbeat

	alive     atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	outbox     chan string
	stopWriter chan struct{}
	writerDone chan struct{}
	discard    atomic.Bool
}

func newConnection(s *Server, t Transport) *Connection {
	id := uuid.NewString()[:8]
	c := &Connection{
		id:        id,
		server:    s,
		transport: t,
		logger:    s.logger.With(zap.String("conn_id", id), zap.String("remote", t.RemoteAddr())),
		done:      make(chan struct{}),

		stopWriter: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	size := s.cfg.OutboxSize
	if size <= 0 {
		size = defaultOutbox
	}
	c.outbox = make(chan string, size)
	c.alive.Store(true)
	go c.writeLoop()
	return c
}

// writeLoop は stopWriter が閉じられた後も、キューに残った行を送り切ってから終了します。
func (c *Connection) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case line := <-c.outbox:
			c.flushLine(line)
		case <-c.stopWriter:
			for {
				select {
				case line := <-c.outbox:
					c.flushLine(line)
				default:
					return
				}
			}
		}
	}
}

func (c *Connection) flushLine(line string) {
	if c.discard.Load() {
		return
	}
	if err := c.writeLine(line); err != nil {
		// 一度失敗したら残りは捨てる
		c.discard.Store(true)
		c.logger.Debug("書き込みに失敗しました", zap.Error(err))
	}
}

// enqueue は行を outbox に積みます。wait が false のときキューが満杯なら errOutboxFull を返します。
func (c *Connection) enqueue(line string, wait bool) error {
	select {
	case <-c.stopWriter:
		return errConnClosed
	default:
	}
	if wait {
		select {
		case c.outbox <- line:
			return nil
		case <-c.stopWriter:
			return errConnClosed
		}
	}
	select {
	case c.outbox <- line:
		return nil
	case <-c.stopWriter:
		return errConnClosed
	default:
		return errOutboxFull
	}
}

// abandon drops a peer that cannot keep up. Queued lines are discarded and the
// socket is closed so the read loop ends the session.
func (c *Connection) abandon() {
	c.discard.Store(true)
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("クローズに失敗しました", zap.Error(err))
	}
}

func (c *Connection) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Connection) setUsername(name string) {
	c.mu.Lock()
	c.username = name
	c.mu.Unlock()
}

// Notify は game.Player の実装です。送信失敗は読み込みループ側で検出されるので無視します。
func (c *Connection) Notify(msgType string, payload any) {
	if err := c.send(msgType, payload); err != nil {
		c.logger.Debug("通知の送信に失敗しました", zap.String("type", msgType), zap.Error(err))
	}
}

func (c *Connection) EnterGame(g *game.Game) {
	c.mu.Lock()
	c.game = g
	c.mu.Unlock()
}

func (c *Connection) LeaveGame(g *game.Game) {
	c.mu.Lock()
	if c.game == g {
		c.game = nil
	}
	c.mu.Unlock()
}

func (c *Connection) currentGame() *game.Game {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) serve() {
	defer c.disconnect(0)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("ハンドラでパニックが発生しました", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	c.logger.Info("クライアントが接続しました")
	c.Notify(protocol.Greet, models.GreetMessage{Msg: c.server.cfg.Greeting})

	for {
		line, err := c.transport.ReadLine()
		if err != nil {
			switch {
			case errors.Is(err, ErrLineTooLong):
				c.logger.Warn("メッセージが長すぎるため切断します", zap.Int("limit", c.server.cfg.MaxLineBytes))
				c.disconnect(protocol.ReasonUnterminated)
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), c.closed():
				c.logger.Debug("読み込みを終了します", zap.Error(err))
			default:
				c.logger.Info("読み込みエラー", zap.Error(err))
			}
			return
		}

		if err := c.dispatch(line); err != nil {
			if !errors.Is(err, errLeave) {
				c.logger.Warn("セッションを終了します", zap.Error(err))
			}
			return
		}
	}
}

// disconnect は一度だけ実行されます。reason が 0 以外なら DISCONNECTED を送ってから閉じます。
func (c *Connection) disconnect(reason int) {
	c.closeOnce.Do(func() {
		close(c.done)
		if reason != 0 {
			c.Notify(protocol.Disconnected, models.DisconnectedMessage{Reason: reason})
		}

		c.mu.Lock()
		hb := c.heartbeat
		c.heartbeat = nil
		g := c.game
		c.mu.Unlock()

		if hb != nil {
			hb.stop()
		}
		// ユーザー名がクリアされる前にゲームから抜ける
		if g != nil {
			g.Leave(c)
		}

		name := c.server.registry.Remove(c)
		// DISCONNECTED を含む残りの行を送ってから閉じる
		close(c.stopWriter)
		<-c.writerDone
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("クローズに失敗しました", zap.Error(err))
		}

		c.logger.Info("クライアントが切断しました", zap.String("username", name), zap.Int("reason", reason))
		if name == "" {
			return
		}
		if !c.server.isShuttingDown() {
			c.server.broadcastExcept(c, protocol.Left, models.UserEvent{Username: name})
		}
		c.server.presenceRemove(name)
	})
}

func (c *Connection) send(msgType string, payload any) error {
	line, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.logger.Error("メッセージのエンコードに失敗しました", zap.String("type", msgType), zap.Error(err))
		return err
	}
	return c.enqueue(line, true)
}

func (c *Connection) writeLine(line string) error {
	if err := c.transport.WriteLine(line); err != nil {
		return fmt.Errorf("write to %s: %w", c.id, err)
	}
	return nil
}

// respond は RESPONSE エンベロープを1つ送ります。
func (c *Connection) respond(command string, status int, content any) {
	c.Notify(protocol.Response, models.ResponseMessage{To: command, Status: status, Content: content})
}

func (c *Connection) ok(command string, content any) {
	c.respond(command, protocol.StatusOK, content)
}

// fail はステータスコードの説明文を content にして返します。
func (c *Connection) fail(command string, status int) {
	c.respond(command, status, protocol.StatusText(status))
}

func (c *Connection) notFound(command, resource, id string) {
	c.respond(command, protocol.StatusNotFound, models.NotFound{Resource: resource, Content: id})
}

func (c *Connection) startHeartbeat() {
	cfg := c.server.cfg
	hb := startHeartbeat(c, cfg.HeartbeatPeriod, cfg.HeartbeatReaction, c.logger)

	c.mu.Lock()
	if c.closed() {
		c.mu.Unlock()
		hb.stop()
		return
	}
	c.heartbeat = hb
	c.mu.Unlock()
}

func (c *Connection) addPendingTransfer(req models.FileTransferRequest) {
	c.mu.Lock()
	c.pending = append(c.pending, req)
	c.mu.Unlock()
}

// takePendingTransfer removes the request with the given session id,
// or the most recent one when sessionID is empty.
func (c *Connection) takePendingTransfer(sessionID string) (models.FileTransferRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.pending) - 1; i >= 0; i-- {
		if sessionID != "" && c.pending[i].SessionID != sessionID {
			continue
		}
		req := c.pending[i]
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		return req, true
	}
	return models.FileTransferRequest{}, false
}
