package game

import (
	"math/rand"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var lobbyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// ValidLobby reports whether name is an acceptable lobby name.
func ValidLobby(name string) bool {
	return lobbyPattern.MatchString(name)
}

// Registry はアクティブなゲームをロビー名で管理します。
type Registry struct {
	cfg    Config
	logger *zap.Logger
	answer func(lower, upper int) int

	games sync.Map // lobby -> *Game
}

type Option func(*Registry)

// WithAnswer は答えの生成方法を差し替えます (テスト用)。
func WithAnswer(fn func(lower, upper int) int) Option {
	return func(r *Registry) { r.answer = fn }
}

func NewRegistry(cfg Config, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{cfg: cfg, logger: logger}

	// ゴルーチン間で共有するので乱数生成器はロックで守る
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	r.answer = func(lower, upper int) int {
		mu.Lock()
		defer mu.Unlock()
		return lower + rng.Intn(upper-lower+1)
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Launch creates and starts a game if the lobby name is valid and free.
// onEnd runs on the game goroutine after members have been notified.
func (r *Registry) Launch(lobby string, creator Player, onEnd func(Result)) (*Game, error) {
	if !ValidLobby(lobby) {
		return nil, ErrInvalidLobby
	}

	g := newGame(lobby, creator, r.answer(r.cfg.Lower, r.cfg.Upper), r.cfg, r.logger)
	if _, loaded := r.games.LoadOrStore(lobby, g); loaded {
		return nil, ErrLobbyTaken
	}
	g.start(func() { r.games.CompareAndDelete(lobby, g) }, onEnd)
	return g, nil
}

func (r *Registry) Get(lobby string) (*Game, bool) {
	v, ok := r.games.Load(lobby)
	if !ok {
		return nil, false
	}
	return v.(*Game), true
}

// Active はロビー名順のスナップショットを返します。
func (r *Registry) Active() []Info {
	var infos []Info
	r.games.Range(func(_, v any) bool {
		if info, err := v.(*Game).Info(); err == nil {
			infos = append(infos, info)
		}
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Lobby < infos[j].Lobby })
	return infos
}

// StopAll はシャットダウン時に全ゲームを通知なしで止めます。
func (r *Registry) StopAll() {
	r.games.Range(func(_, v any) bool {
		v.(*Game).Stop()
		return true
	})
}

func (r *Registry) Config() Config { return r.cfg }
