package websocket

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"chatserver/chat"

	"github.com/gorilla/websocket"
)

// Client は WebSocket 接続を行単位の chat.Transport として扱います。
// 1フレームに複数行が含まれていてもよく、行ごとに分割して返します。
type Client struct {
	Conn         *websocket.Conn
	writeTimeout time.Duration

	pending []string
	mu      sync.Mutex
}

func NewClient(conn *websocket.Conn, maxLine int, writeTimeout time.Duration) *Client {
	if maxLine > 0 {
		conn.SetReadLimit(int64(maxLine))
	}
	return &Client{Conn: conn, writeTimeout: writeTimeout}
}

func (c *Client) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				return "", chat.ErrLineTooLong
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				return "", io.EOF
			}
			return "", err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.pending = strings.Split(strings.TrimRight(string(message), "\n"), "\n")
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return strings.TrimSuffix(line, "\r"), nil
}

// WriteLine sends one protocol line as a text frame.
func (c *Client) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.Conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *Client) Close() error {
	c.mu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = c.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.mu.Unlock()
	return c.Conn.Close()
}

func (c *Client) RemoteAddr() string {
	return c.Conn.RemoteAddr().String()
}
