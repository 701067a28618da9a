package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBrokerClosed = errors.New("transfer: broker closed")
	ErrRoleTaken    = errors.New("role already registered for session")
)

// session は同じIDを持つ送信側と受信側の組です。
type session struct {
	id       uuid.UUID
	sender   net.Conn
	receiver net.Conn
	paired   chan struct{}
}

// Stats はブローカーの統計情報です。
type Stats struct {
	Pending    int    `json:"pending"`
	Active     int64  `json:"active"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
	Bytes      int64  `json:"bytes"`
	LastDigest string `json:"lastDigest,omitempty"`
}

// Broker pairs sender and receiver legs by session id and copies bytes between them.
type Broker struct {
	logger        *zap.Logger
	pairTimeout   time.Duration
	headerTimeout time.Duration

	mu         sync.Mutex
	sessions   map[uuid.UUID]*session
	conns      map[net.Conn]struct{}
	listener   net.Listener
	closed     bool
	lastDigest string

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
}

type Option func(*Broker)

// WithPairTimeout は片方のレッグが相手を待つ最大時間です。
func WithPairTimeout(d time.Duration) Option {
	return func(b *Broker) { b.pairTimeout = d }
}

func WithHeaderTimeout(d time.Duration) Option {
	return func(b *Broker) { b.headerTimeout = d }
}

func NewBroker(logger *zap.Logger, opts ...Option) *Broker {
	b := &Broker{
		logger:        logger.Named("transfer"),
		pairTimeout:   2 * time.Minute,
		headerTimeout: 10 * time.Second,
		sessions:      make(map[uuid.UUID]*session),
		conns:         make(map[net.Conn]struct{}),
		closing:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return b.Serve(ln)
}

func (b *Broker) Serve(ln net.Listener) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ln.Close()
		return ErrBrokerClosed
	}
	b.listener = ln
	b.mu.Unlock()

	b.logger.Info("ファイル転送ブローカーを起動しました", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-b.closing:
				return ErrBrokerClosed
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !b.track(conn) {
			conn.Close()
			continue
		}
		go b.handle(conn)
	}
}

func (b *Broker) track(conn net.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.conns[conn] = struct{}{}
	b.wg.Add(1)
	return true
}

func (b *Broker) release(conn net.Conn) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
	conn.Close()
}

func (b *Broker) handle(conn net.Conn) {
	defer b.wg.Done()
	logger := b.logger.With(zap.String("remote", conn.RemoteAddr().String()))

	if b.headerTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(b.headerTimeout))
	}
	role, id, err := ReadHeader(conn)
	if err != nil {
		logger.Warn("ヘッダーが不正なため接続を閉じます", zap.Error(err))
		b.release(conn)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	logger = logger.With(zap.String("session_id", id.String()), zap.String("role", string(role)))

	s, ready, err := b.register(role, id, conn)
	if err != nil {
		logger.Warn("レッグを登録できません", zap.Error(err))
		b.release(conn)
		return
	}
	if ready {
		// 中継は待機していた側のゴルーチンが行う
		return
	}
	logger.Debug("相手のレッグを待機します")
	b.wait(s, role, conn, logger)
}

// register records conn under role. ready is true for the caller that completed the pair;
// the leg that was already waiting runs the relay.
func (b *Broker) register(role byte, id uuid.UUID, conn net.Conn) (*session, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[id]
	if !ok {
		s = &session{id: id, paired: make(chan struct{})}
		b.sessions[id] = s
	}

	switch role {
	case RoleSender:
		if s.sender != nil {
			return nil, false, ErrRoleTaken
		}
		s.sender = conn
	case RoleReceiver:
		if s.receiver != nil {
			return nil, false, ErrRoleTaken
		}
		s.receiver = conn
	}

	if s.sender == nil || s.receiver == nil {
		return s, false, nil
	}
	delete(b.sessions, id)
	close(s.paired)
	return s, true, nil
}

// legWatch は待機中のレッグを読み続け、切断を検出します。
// 送信側が先にファイルの先頭を送ってきた場合はその1バイトを prefix に残して監視をやめます。
type legWatch struct {
	conn   net.Conn
	done   chan struct{}
	stop   atomic.Bool
	prefix []byte
	err    error
}

func watchLeg(conn net.Conn, role byte) *legWatch {
	w := &legWatch{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		buf := make([]byte, 1)
		for {
			n, err := conn.Read(buf)
			if n > 0 && role == RoleSender {
				w.prefix = append(w.prefix, buf[0])
			}
			if err != nil {
				if !w.stop.Load() {
					w.err = err
				}
				return
			}
			if role == RoleSender && n > 0 {
				return
			}
			// 受信側から届いたバイトは捨てる
		}
	}()
	return w
}

// halt stops the watcher and returns the bytes it consumed from the sender.
func (w *legWatch) halt() []byte {
	w.stop.Store(true)
	_ = w.conn.SetReadDeadline(time.Now())
	<-w.done
	_ = w.conn.SetReadDeadline(time.Time{})
	return w.prefix
}

// wait blocks the first leg until its partner arrives, its own socket closes,
// the pair timeout fires or the broker closes. When paired it runs the relay.
func (b *Broker) wait(s *session, role byte, conn net.Conn, logger *zap.Logger) {
	timer := time.NewTimer(b.pairTimeout)
	defer timer.Stop()

	w := watchLeg(conn, role)
	gone := w.done
	reason := "相手のレッグが来なかったため接続を閉じます"

loop:
	for {
		select {
		case <-s.paired:
			b.relay(s, w.halt(), logger)
			return
		case <-gone:
			if w.err == nil {
				// 送信側がデータを送り始めた。以降は切断を監視しない
				gone = nil
				continue
			}
			reason = "待機中のレッグが切断されました"
			break loop
		case <-timer.C:
			break loop
		case <-b.closing:
			break loop
		}
	}

	b.mu.Lock()
	select {
	case <-s.paired:
		// ロック待ちの間にペアが成立した
		b.mu.Unlock()
		b.relay(s, w.halt(), logger)
		return
	default:
	}
	if role == RoleSender {
		s.sender = nil
	} else {
		s.receiver = nil
	}
	if s.sender == nil && s.receiver == nil && b.sessions[s.id] == s {
		delete(b.sessions, s.id)
	}
	b.mu.Unlock()

	logger.Info(reason)
	b.release(conn)
	w.halt()
}

// relay copies prefix and then the sender stream to the receiver.
func (b *Broker) relay(s *session, prefix []byte, logger *zap.Logger) {
	b.active.Add(1)
	defer b.active.Add(-1)

	logger.Info("中継を開始します")
	hash := xxhash.New()
	src := io.MultiReader(bytes.NewReader(prefix), s.sender)
	n, err := io.Copy(s.receiver, io.TeeReader(src, hash))
	if cw, ok := s.receiver.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	b.release(s.sender)
	b.release(s.receiver)
	b.bytes.Add(n)

	digest := fmt.Sprintf("%016x", hash.Sum64())
	if err != nil {
		b.failed.Add(1)
		logger.Warn("中継に失敗しました", zap.Int64("bytes", n), zap.Error(err))
		return
	}
	b.completed.Add(1)
	b.mu.Lock()
	b.lastDigest = digest
	b.mu.Unlock()
	logger.Info("中継が完了しました", zap.Int64("bytes", n), zap.String("xxhash", digest))
}

// Pending は片方のレッグだけが揃っているセッション数です。
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	pending, digest := len(b.sessions), b.lastDigest
	b.mu.Unlock()
	return Stats{
		Pending:    pending,
		Active:     b.active.Load(),
		Completed:  b.completed.Load(),
		Failed:     b.failed.Load(),
		Bytes:      b.bytes.Load(),
		LastDigest: digest,
	}
}

// Close stops accepting, closes every leg and waits for the handlers to exit.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	ln := b.listener
	conns := make([]net.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	b.closeOnce.Do(func() { close(b.closing) })
	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}
	b.wg.Wait()
	return err
}
