package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"chatserver/internal/game"
	"chatserver/models"
	"chatserver/protocol"

	"go.uber.org/zap"
)

// ErrServerClosed は Shutdown 後に Serve が返すエラーです。
var ErrServerClosed = errors.New("chat: server closed")

// Config はチャットサーバーの動作設定です。
type Config struct {
	Addr              string
	HeartbeatPeriod   time.Duration
	HeartbeatReaction time.Duration
	MaxLineBytes      int
	WriteTimeout      time.Duration
	// OutboxSize is the number of lines queued per connection before broadcasts drop it.
	OutboxSize int
	Greeting   string
	Game       game.Config
}

func DefaultConfig() Config {
	return Config{
		Addr:              ":1337",
		HeartbeatPeriod:   30 * time.Second,
		HeartbeatReaction: 5 * time.Second,
		MaxLineBytes:      8192,
		WriteTimeout:      10 * time.Second,
		OutboxSize:        256,
		Greeting:          "Welcome to the chat server",
		Game:              game.DefaultConfig(),
	}
}

// Presence mirrors the set of logged-in users somewhere outside the process.
type Presence interface {
	Add(ctx context.Context, username string) error
	Remove(ctx context.Context, username string) error
}

// ResultSink は終了したゲームを保存します。
type ResultSink interface {
	SaveResult(ctx context.Context, res game.Result) error
}

type Server struct {
	cfg      Config
	logger   *zap.Logger
	registry *Registry
	games    *game.Registry
	presence Presence
	results  ResultSink
	gameOpts []game.Option

	mu           sync.Mutex
	listener     net.Listener
	shuttingDown bool
	conns        sync.WaitGroup
	background   sync.WaitGroup
}

type Option func(*Server)

func WithPresence(p Presence) Option {
	return func(s *Server) { s.presence = p }
}

func WithResultSink(sink ResultSink) Option {
	return func(s *Server) { s.results = sink }
}

// WithGameOptions passes options through to the game registry.
func WithGameOptions(opts ...game.Option) Option {
	return func(s *Server) { s.gameOpts = append(s.gameOpts, opts...) }
}

func NewServer(cfg Config, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.games = game.NewRegistry(cfg.Game, logger, s.gameOpts...)
	return s
}

func (s *Server) Config() Config {
	return s.cfg
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections until the listener fails or Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("チャットサーバーを起動しました", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isShuttingDown() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept に失敗しました。再試行します", zap.Error(err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.ServeTransport(NewTCPTransport(conn, s.cfg.MaxLineBytes, s.cfg.WriteTimeout))
	}
}

// ServeTransport runs one session on t and blocks until it ends.
func (s *Server) ServeTransport(t Transport) {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		if line, err := protocol.Encode(protocol.Disconnected, models.DisconnectedMessage{Reason: protocol.ReasonServerShutdown}); err == nil {
			_ = t.WriteLine(line)
		}
		t.Close()
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	c := newConnection(s, t)
	s.registry.Add(c)
	c.serve()
}

// Shutdown は全セッションに DISCONNECTED(702) を送ってから接続を閉じます。
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	sessions := s.registry.All()
	for _, c := range sessions {
		c.disconnect(protocol.ReasonServerShutdown)
	}
	s.games.StopAll()
	s.logger.Info("全セッションを切断しました", zap.Int("sessions", len(sessions)))

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// OnlineUsers returns the logged-in usernames in sorted order.
func (s *Server) OnlineUsers() []string {
	return s.registry.Usernames()
}

func (s *Server) ActiveGames() []game.Info {
	return s.games.Active()
}

// ConnectionCount は未ログインを含む接続数です。
func (s *Server) ConnectionCount() int {
	return s.registry.Len()
}

func (s *Server) presenceAdd(username string) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.presence.Add(ctx, username); err != nil {
		s.logger.Warn("プレゼンスの登録に失敗しました", zap.String("username", username), zap.Error(err))
	}
}

func (s *Server) presenceRemove(username string) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.presence.Remove(ctx, username); err != nil {
		s.logger.Warn("プレゼンスの削除に失敗しました", zap.String("username", username), zap.Error(err))
	}
}

// onGameEnd はゲームのゴルーチン上で呼ばれます。
func (s *Server) onGameEnd(res game.Result) {
	if res.Failed {
		members := make(map[string]bool, len(res.Members))
		for _, name := range res.Members {
			members[name] = true
		}
		s.broadcastWhere(func(c *Connection) bool { return !members[c.Username()] },
			protocol.GameFail, models.LobbyEvent{Lobby: res.Lobby})
	}

	if s.results == nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.results.SaveResult(ctx, res); err != nil {
			s.logger.Error("ゲーム結果の保存に失敗しました", zap.String("lobby", res.Lobby), zap.Error(err))
		}
	}()
}
