// Package client is a line protocol chat client. It answers heartbeats and runs the
// encrypted direct-message handshake locally so callers only see decrypted text.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"chatserver/internal/secure"
	"chatserver/models"
	"chatserver/protocol"

	"go.uber.org/zap"
)

const maxLineSize = 1 << 20

var ErrClosed = errors.New("client: connection closed")

// Event はサーバーから届いた1行です。SECURE は復号済みの平文を持ちます。
type Event struct {
	Message   protocol.Message
	Secure    bool
	From      string
	Plaintext string
}

type Client struct {
	conn   net.Conn
	keys   *secure.Manager
	logger *zap.Logger

	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}
	err     error
}

// Dial connects to a chat server and starts reading.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, err := New(conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an established connection. The caller must drain Events.
func New(conn net.Conn, logger *zap.Logger) (*Client, error) {
	keys, err := secure.NewManager()
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:   conn,
		keys:   keys,
		logger: logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events is closed when the connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// Err は読み込みループが終了した理由です。正常な切断では nil。
func (c *Client) Err() error {
	<-c.done
	return c.err
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Login(username string) error {
	return c.Send(protocol.Login, models.LoginRequest{Username: username})
}

func (c *Client) Send(msgType string, payload any) error {
	line, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	return c.WriteLine(line)
}

// SendSecure encrypts text for peer, starting the key exchange first when no session exists.
func (c *Client) SendSecure(peer, text string) error {
	msg, err := c.keys.Send(peer, text)
	if err != nil {
		return err
	}
	return c.WriteLine(msg.String())
}

// WriteLine sends one raw protocol line.
func (c *Client) WriteLine(line string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		msg, err := protocol.Parse(scanner.Text())
		if err != nil {
			c.logger.Debug("解析できない行を無視します", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.err = err
	}
}

func (c *Client) dispatch(msg protocol.Message) {
	switch msg.Type {
	case protocol.Ping:
		if err := c.WriteLine(protocol.Pong); err != nil {
			c.logger.Warn("PONG を送れませんでした", zap.Error(err))
		}
	case protocol.PublicKeyReq, protocol.PublicKeyRes, protocol.SessionKey, protocol.SecureReady:
		reply, _, err := c.keys.Handle(msg)
		if err != nil {
			c.logger.Warn("鍵交換に失敗しました", zap.String("type", msg.Type), zap.Error(err))
			return
		}
		if reply != nil {
			if err := c.WriteLine(reply.String()); err != nil {
				c.logger.Warn("鍵交換の返信を送れませんでした", zap.Error(err))
			}
		}
	case protocol.Secure:
		var p models.SecureMessage
		if err := msg.Decode(&p); err != nil {
			c.logger.Warn("SECURE を解析できません", zap.Error(err))
			return
		}
		_, plain, err := c.keys.Handle(msg)
		if err != nil {
			c.logger.Warn("SECURE を復号できません", zap.String("from", p.Username), zap.Error(err))
			return
		}
		c.events <- Event{Message: msg, Secure: true, From: p.Username, Plaintext: plain}
	default:
		c.events <- Event{Message: msg}
	}
}
