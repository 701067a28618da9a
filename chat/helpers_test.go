package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"chatserver/models"
	"chatserver/protocol"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitTimeout = 2 * time.Second

// cron のゴルーチンが Stop 後にログを書くことがあるので zaptest ではなく Nop を使う
func newTestServer(t *testing.T, configure func(*Config), opts ...Option) (*Server, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	if configure != nil {
		configure(&cfg)
	}
	srv := NewServer(cfg, zap.NewNop(), opts...)

	ln, err := net.Listen("tcp", cfg.Addr)
	require.NoError(t, err)
	go srv.Serve(ln)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, ln.Addr().String()
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	msgs chan protocol.Message
}

// dial connects and consumes the GREET line.
func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn, msgs: make(chan protocol.Message, 256)}
	go func() {
		defer close(c.msgs)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			msg, err := protocol.Parse(scanner.Text())
			if err != nil {
				continue
			}
			c.msgs <- msg
		}
	}()

	greet := c.expect(protocol.Greet)
	var payload models.GreetMessage
	require.NoError(t, greet.Decode(&payload))
	require.NotEmpty(t, payload.Msg)
	return c
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *testClient) send(msgType string, payload any) {
	c.t.Helper()
	line, err := protocol.Encode(msgType, payload)
	require.NoError(c.t, err)
	c.sendRaw(line)
}

func (c *testClient) next() protocol.Message {
	c.t.Helper()
	select {
	case msg, ok := <-c.msgs:
		require.True(c.t, ok, "connection closed")
		return msg
	case <-time.After(waitTimeout):
		c.t.Fatal("timed out waiting for a message")
		return protocol.Message{}
	}
}

func (c *testClient) expect(msgType string) protocol.Message {
	c.t.Helper()
	msg := c.next()
	require.Equal(c.t, msgType, msg.Type, "payload: %s", msg.Payload)
	return msg
}

func (c *testClient) expectPayload(msgType string, v any) {
	c.t.Helper()
	require.NoError(c.t, c.expect(msgType).Decode(v))
}

// response reads the next RESPONSE and checks which command it answers.
func (c *testClient) response(command string) models.ResponseMessage {
	c.t.Helper()
	var res models.ResponseMessage
	c.expectPayload(protocol.Response, &res)
	require.Equal(c.t, command, res.To)
	return res
}

func (c *testClient) status(command string, status int) models.ResponseMessage {
	c.t.Helper()
	res := c.response(command)
	require.Equal(c.t, status, res.Status, "content: %v", res.Content)
	return res
}

func (c *testClient) login(username string) {
	c.t.Helper()
	c.send(protocol.Login, models.LoginRequest{Username: username})
	c.status(protocol.Login, protocol.StatusOK)
}

func (c *testClient) expectNothing(d time.Duration) {
	c.t.Helper()
	select {
	case msg, ok := <-c.msgs:
		if ok {
			c.t.Fatalf("unexpected message %s", msg)
		}
	case <-time.After(d):
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg, ok := <-c.msgs:
			if !ok {
				return
			}
			c.t.Fatalf("expected close, got %s", msg)
		case <-deadline:
			c.t.Fatal("connection was not closed")
		}
	}
}

// contentAs は RESPONSE の content を v にデコードし直します。
func contentAs(t *testing.T, res models.ResponseMessage, v any) {
	t.Helper()
	raw, err := json.Marshal(res.Content)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

// loggedIn dials and logs in each name in order, draining the ARRIVED events it causes.
func loggedIn(t *testing.T, addr string, names ...string) []*testClient {
	t.Helper()
	clients := make([]*testClient, 0, len(names))
	for _, name := range names {
		c := dial(t, addr)
		c.login(name)
		for _, prev := range clients {
			var ev models.UserEvent
			prev.expectPayload(protocol.Arrived, &ev)
			require.Equal(t, name, ev.Username)
		}
		clients = append(clients, c)
	}
	return clients
}
