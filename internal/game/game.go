package game

import (
	"errors"
	"sort"
	"sync"
	"time"

	"chatserver/models"
	"chatserver/protocol"

	"go.uber.org/zap"
)

// State はゲームのフェーズを表します。
type State int

const (
	Collection State = iota // 参加者募集中
	Elapsed                 // 数当て中
	Terminated
)

func (s State) String() string {
	switch s {
	case Collection:
		return "collection"
	case Elapsed:
		return "elapsed"
	default:
		return "terminated"
	}
}

var (
	ErrInvalidLobby   = errors.New("invalid lobby name")
	ErrLobbyTaken     = errors.New("lobby already exists")
	ErrJoinClosed     = errors.New("collection window is over")
	ErrAlreadyJoined  = errors.New("player already joined")
	ErrNotMember      = errors.New("player is not in this game")
	ErrNotStarted     = errors.New("game has not started")
	ErrOutOfRange     = errors.New("guess out of range")
	ErrAlreadyGuessed = errors.New("player already guessed the number")
	ErrGameOver       = errors.New("game is over")
)

// Player はゲームに参加する接続です。
// EnterGame/LeaveGame はゲームのゴルーチンからのみ呼ばれます。
type Player interface {
	Username() string
	Notify(msgType string, payload any)
	EnterGame(g *Game)
	LeaveGame(g *Game)
}

// Config holds the answer bounds and the two phase windows.
type Config struct {
	Lower            int
	Upper            int
	CollectionWindow time.Duration
	PlayWindow       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Lower:            1,
		Upper:            50,
		CollectionWindow: time.Minute,
		PlayWindow:       time.Minute,
	}
}

// Result は終了したゲームの記録です。
type Result struct {
	Lobby       string
	Failed      bool
	Players     int
	Members     []string
	Leaderboard []models.Score
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Info はゲームのスナップショットです。
type Info struct {
	Lobby   string   `json:"lobby"`
	State   string   `json:"state"`
	Players []string `json:"players"`
}

// Game is a single lobby. All state below the channels is owned by the run goroutine;
// other goroutines reach it only through Join, Guess, Leave and Info.
type Game struct {
	lobby  string
	cfg    Config
	answer int
	logger *zap.Logger

	release func()
	onEnd   func(Result)

	ops      chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	state          State
	order          []string
	members        map[string]Player
	leaderboard    map[string]int64
	guessed        map[string]bool
	playersGuessed int
	startTime      time.Time
}

func newGame(lobby string, creator Player, answer int, cfg Config, logger *zap.Logger) *Game {
	g := &Game{
		lobby:       lobby,
		cfg:         cfg,
		answer:      answer,
		logger:      logger.With(zap.String("lobby", lobby)),
		ops:         make(chan func()),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		state:       Collection,
		members:     make(map[string]Player),
		leaderboard: make(map[string]int64),
		guessed:     make(map[string]bool),
	}
	g.addMember(creator)
	return g
}

func (g *Game) Lobby() string { return g.lobby }

// start はアクターを起動します。release は終了時に最初に呼ばれ、onEnd は通知後に呼ばれます。
func (g *Game) start(release func(), onEnd func(Result)) {
	g.release = release
	g.onEnd = onEnd
	for _, p := range g.members {
		p.EnterGame(g)
	}
	g.logger.Info("ゲームを作成しました", zap.Duration("collection", g.cfg.CollectionWindow))
	go g.run()
}

func (g *Game) run() {
	defer close(g.done)

	collection := time.NewTimer(g.cfg.CollectionWindow)
	deadline := time.NewTimer(g.cfg.CollectionWindow + g.cfg.PlayWindow)
	// 終了時に残っている方のタイマーを止める
	defer collection.Stop()
	defer deadline.Stop()

	for g.state != Terminated {
		select {
		case op := <-g.ops:
			op()
		case <-collection.C:
			g.endCollection()
		case <-deadline.C:
			g.logger.Info("制限時間に達しました")
			g.finish()
		case <-g.stopCh:
			g.abort()
		}
	}
}

// do runs fn on the game goroutine and waits for it.
func (g *Game) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case g.ops <- func() {
		defer close(ran)
		fn()
	}:
		<-ran
		return nil
	case <-g.done:
		return ErrGameOver
	}
}

// Join adds p during the collection window.
func (g *Game) Join(p Player) error {
	var err error
	if doErr := g.do(func() {
		switch {
		case g.state != Collection:
			err = ErrJoinClosed
		case g.members[p.Username()] == p:
			err = ErrAlreadyJoined
		default:
			g.addMember(p)
			p.EnterGame(g)
			g.logger.Info("プレイヤーが参加しました", zap.String("username", p.Username()))
		}
	}); doErr != nil {
		if errors.Is(doErr, ErrGameOver) {
			return ErrJoinClosed
		}
		return doErr
	}
	return err
}

// Guess returns 1 when the guess is too high, -1 when too low and 0 when correct.
func (g *Game) Guess(p Player, guess int) (int, error) {
	var (
		hint int
		err  error
	)
	if doErr := g.do(func() {
		name := p.Username()
		switch {
		case g.members[name] != p:
			err = ErrNotMember
		case g.state == Collection:
			err = ErrNotStarted
		case guess < g.cfg.Lower || guess > g.cfg.Upper:
			err = ErrOutOfRange
		case g.guessed[name]:
			err = ErrAlreadyGuessed
		case guess > g.answer:
			hint = 1
		case guess < g.answer:
			hint = -1
		default:
			g.recordCorrect(p)
		}
	}); doErr != nil {
		return 0, ErrNotMember
	}
	return hint, err
}

// Leave removes a departing player, e.g. after a disconnect.
func (g *Game) Leave(p Player) {
	_ = g.do(func() {
		name := p.Username()
		if g.members[name] != p {
			return
		}
		g.removeMember(name)
		p.LeaveGame(g)
		g.logger.Info("プレイヤーが離脱しました", zap.String("username", name))

		if g.state != Elapsed {
			return
		}
		if !g.guessed[name] {
			delete(g.leaderboard, name)
		}
		if g.allGuessed() {
			g.finish()
		}
	})
}

func (g *Game) Info() (Info, error) {
	var info Info
	err := g.do(func() {
		info = Info{Lobby: g.lobby, State: g.state.String(), Players: append([]string(nil), g.order...)}
	})
	return info, err
}

// Stop terminates the game without notifying players and waits for the actor to exit.
func (g *Game) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	<-g.done
}

func (g *Game) addMember(p Player) {
	g.members[p.Username()] = p
	g.order = append(g.order, p.Username())
}

func (g *Game) removeMember(name string) {
	delete(g.members, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

func (g *Game) endCollection() {
	if len(g.members) < 2 {
		g.logger.Info("参加者不足のためゲームを中止します", zap.Int("players", len(g.members)))
		g.fail()
		return
	}

	g.startTime = time.Now()
	maxTime := g.cfg.PlayWindow.Milliseconds()
	for name := range g.members {
		g.leaderboard[name] = maxTime
	}
	g.state = Elapsed
	g.logger.Info("ゲーム開始", zap.Int("players", len(g.members)))
	g.notifyAll(protocol.GameStart, models.LobbyEvent{Lobby: g.lobby})
}

func (g *Game) recordCorrect(p Player) {
	name := p.Username()
	g.leaderboard[name] = time.Since(g.startTime).Milliseconds()
	g.guessed[name] = true
	g.playersGuessed++

	event := models.GuessedEvent{Lobby: g.lobby, Username: name}
	for _, other := range g.members {
		if other != p {
			other.Notify(protocol.GameGuessed, event)
		}
	}

	if g.allGuessed() {
		g.finish()
	}
}

func (g *Game) allGuessed() bool {
	if len(g.members) == 0 {
		return true
	}
	for name := range g.members {
		if !g.guessed[name] {
			return false
		}
	}
	return true
}

func (g *Game) fail() {
	players := g.terminate()
	g.notify(players, protocol.GameFail, models.LobbyEvent{Lobby: g.lobby})
	g.report(Result{
		Lobby:      g.lobby,
		Failed:     true,
		Players:    len(players),
		Members:    usernames(players),
		FinishedAt: time.Now(),
	})
}

func (g *Game) finish() {
	board := g.sortedLeaderboard()
	players := g.terminate()
	g.logger.Info("ゲーム終了", zap.Int("guessed", g.playersGuessed))
	g.notify(players, protocol.GameEnd, models.GameEndEvent{Lobby: g.lobby, Leaderboard: board})
	g.report(Result{
		Lobby:       g.lobby,
		Players:     len(players),
		Members:     usernames(players),
		Leaderboard: board,
		StartedAt:   g.startTime,
		FinishedAt:  time.Now(),
	})
}

func (g *Game) abort() {
	g.terminate()
	g.logger.Info("ゲームを停止しました")
}

// terminate はロビー名を解放し、全員の inGame を解除します。
func (g *Game) terminate() []Player {
	g.state = Terminated
	if g.release != nil {
		g.release()
	}
	players := make([]Player, 0, len(g.members))
	for _, name := range g.order {
		p := g.members[name]
		p.LeaveGame(g)
		players = append(players, p)
	}
	return players
}

func (g *Game) report(res Result) {
	if g.onEnd != nil {
		g.onEnd(res)
	}
}

func (g *Game) sortedLeaderboard() []models.Score {
	board := make([]models.Score, 0, len(g.leaderboard))
	for name, ms := range g.leaderboard {
		board = append(board, models.Score{Username: name, Time: ms})
	}
	sort.SliceStable(board, func(i, j int) bool {
		if board[i].Time == board[j].Time {
			return board[i].Username < board[j].Username
		}
		return board[i].Time < board[j].Time
	})
	return board
}

func usernames(players []Player) []string {
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.Username()
	}
	return names
}

func (g *Game) notifyAll(msgType string, payload any) {
	for _, name := range g.order {
		g.members[name].Notify(msgType, payload)
	}
}

func (g *Game) notify(players []Player, msgType string, payload any) {
	for _, p := range players {
		p.Notify(msgType, payload)
	}
}
