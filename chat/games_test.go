package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chatserver/internal/game"
	"chatserver/models"
	"chatserver/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	results []game.Result
}

func (s *memorySink) SaveResult(_ context.Context, res game.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

func (s *memorySink) snapshot() []game.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]game.Result(nil), s.results...)
}

func gameWindows(collection, play time.Duration) func(*Config) {
	return func(cfg *Config) {
		cfg.Game.CollectionWindow = collection
		cfg.Game.PlayWindow = play
	}
}

func guess(c *testClient, value any) models.ResponseMessage {
	c.t.Helper()
	raw, err := json.Marshal(value)
	require.NoError(c.t, err)
	c.send(protocol.GameGuess, models.GuessRequest{Guess: raw})
	return c.response(protocol.GameGuess)
}

func TestGameFailsWithSinglePlayer(t *testing.T) {
	sink := &memorySink{}
	_, addr := newTestServer(t, gameWindows(80*time.Millisecond, time.Second), WithResultSink(sink))
	clients := loggedIn(t, addr, "alice", "bob")
	alice, bob := clients[0], clients[1]

	alice.send(protocol.GameLaunch, models.LobbyRequest{Lobby: "lobby1"})
	res := alice.status(protocol.GameLaunch, protocol.StatusOK)
	assert.Equal(t, "lobby1", res.Content)

	var ev models.LobbyEvent
	bob.expectPayload(protocol.GameLaunched, &ev)
	assert.Equal(t, "lobby1", ev.Lobby)

	alice.expectPayload(protocol.GameFail, &ev)
	assert.Equal(t, "lobby1", ev.Lobby)
	bob.expectPayload(protocol.GameFail, &ev)
	assert.Equal(t, "lobby1", ev.Lobby)

	// ロビー名はすぐに再利用できる
	alice.send(protocol.GameLaunch, models.LobbyRequest{Lobby: "lobby1"})
	alice.status(protocol.GameLaunch, protocol.StatusOK)
	bob.expect(protocol.GameLaunched)

	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 1 }, waitTimeout, 10*time.Millisecond)
	first := sink.snapshot()[0]
	assert.True(t, first.Failed)
	assert.Equal(t, []string{"alice"}, first.Members)
}

func TestGameLaunchValidation(t *testing.T) {
	_, addr := newTestServer(t, gameWindows(5*time.Second, time.Second))
	clients := loggedIn(t, addr, "alice", "bob")
	alice, bob := clients[0], clients[1]

	alice.send(protocol.GameLaunch, models.LobbyRequest{Lobby: "no spaces"})
	alice.status(protocol.GameLaunch, protocol.StatusInvalidLobby)
	alice.send(protocol.GameLaunch, models.LobbyRequest{})
	alice.status(protocol.GameLaunch, protocol.StatusInvalidLobby)

	alice.send(protocol.GameLaunch, models.LobbyRequest{Lobby: "room"})
	alice.status(protocol.GameLaunch, protocol.StatusOK)
	bob.expect(protocol.GameLaunched)

	alice.send(protocol.GameLaunch, models.LobbyRequest{Lobby: "other"})
	alice.status(protocol.GameLaunch, protocol.StatusInAnotherGame)

	bob.send(protocol.GameLaunch, models.LobbyRequest{Lobby: "room"})
	bob.status(protocol.GameLaunch, protocol.StatusLobbyTaken)

	bob.send(protocol.GameJoin, models.LobbyRequest{Lobby: "nope"})
	res := bob.status(protocol.GameJoin, protocol.StatusNotFound)
	var nf models.NotFound
	contentAs(t, res, &nf)
	assert.Equal(t, models.NotFound{Resource: "Lobby", Content: "nope"}, nf)

	bob.send(protocol.GameJoin, models.LobbyRequest{Lobby: "bad lobby"})
	bob.status(protocol.GameJoin, protocol.StatusInvalidLobby)

	alice.send(protocol.GameJoin, models.LobbyRequest{Lobby: "room"})
	alice.status(protocol.GameJoin, protocol.StatusAlreadyJoined)

	bob.send(protocol.GameJoin, models.LobbyRequest{Lobby: "room"})
	bob.status(protocol.GameJoin, protocol.StatusOK)
	bob.send(protocol.GameJoin, models.LobbyRequest{Lobby: "room"})
	bob.status(protocol.GameJoin, protocol.StatusAlreadyJoined)

	// 収集中の推測
	res = guess(alice, 10)
	assert.Equal(t, protocol.StatusGameNotStarted, res.Status)
}

func TestGameFullFlow(t *testing.T) {
	sink := &memorySink{}
	_, addr := newTestServer(t,
		gameWindows(150*time.Millisecond, 5*time.Second),
		WithResultSink(sink),
		WithGameOptions(game.WithAnswer(func(lower, upper int) int { return 7 })),
	)
	clients := loggedIn(t, addr, "alice", "bob", "carol")
	alice, bob, carol := clients[0], clients[1], clients[2]

	alice.send(protocol.GameLaunch, models.LobbyRequest{Lobby: "lobby1"})
	alice.status(protocol.GameLaunch, protocol.StatusOK)
	bob.expect(protocol.GameLaunched)
	carol.expect(protocol.GameLaunched)

	bob.send(protocol.GameJoin, models.LobbyRequest{Lobby: "lobby1"})
	bob.status(protocol.GameJoin, protocol.StatusOK)

	alice.expect(protocol.GameStart)
	bob.expect(protocol.GameStart)

	carol.send(protocol.GameJoin, models.LobbyRequest{Lobby: "lobby1"})
	carol.status(protocol.GameJoin, protocol.StatusJoinClosed)
	res := guess(carol, 7)
	assert.Equal(t, protocol.StatusNotInGame, res.Status)

	res = guess(alice, "abc")
	assert.Equal(t, protocol.StatusGuessNotNumber, res.Status)
	res = guess(alice, 0)
	assert.Equal(t, protocol.StatusGuessOutOfRange, res.Status)
	assert.Equal(t, "1-50", res.Content)
	res = guess(alice, 51)
	assert.Equal(t, protocol.StatusGuessOutOfRange, res.Status)

	res = guess(alice, 10)
	assert.Equal(t, protocol.StatusOK, res.Status)
	assert.EqualValues(t, 1, res.Content)
	res = guess(alice, "3")
	assert.EqualValues(t, -1, res.Content)
	res = guess(alice, 7)
	assert.EqualValues(t, 0, res.Content)

	var guessed models.GuessedEvent
	bob.expectPayload(protocol.GameGuessed, &guessed)
	assert.Equal(t, models.GuessedEvent{Lobby: "lobby1", Username: "alice"}, guessed)

	res = guess(alice, 7)
	assert.Equal(t, protocol.StatusAlreadyGuessed, res.Status)

	// 最後の正解で GAME_END がレスポンスより先に届く
	raw, _ := json.Marshal(7)
	bob.send(protocol.GameGuess, models.GuessRequest{Guess: raw})
	var end models.GameEndEvent
	bob.expectPayload(protocol.GameEnd, &end)
	res = bob.status(protocol.GameGuess, protocol.StatusOK)
	assert.EqualValues(t, 0, res.Content)

	alice.expectPayload(protocol.GameEnd, &end)
	assert.Equal(t, "lobby1", end.Lobby)
	require.Len(t, end.Leaderboard, 2)
	assert.Equal(t, "alice", end.Leaderboard[0].Username)
	assert.Equal(t, "bob", end.Leaderboard[1].Username)
	assert.LessOrEqual(t, end.Leaderboard[0].Time, end.Leaderboard[1].Time)

	// 終了後は誰もゲームにいない
	res = guess(alice, 7)
	assert.Equal(t, protocol.StatusNotInGame, res.Status)
	carol.expectNothing(50 * time.Millisecond)

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, waitTimeout, 10*time.Millisecond)
	saved := sink.snapshot()[0]
	assert.False(t, saved.Failed)
	assert.Equal(t, 2, saved.Players)
	assert.Equal(t, end.Leaderboard, saved.Leaderboard)
}

func TestGameDisconnectLeavesGame(t *testing.T) {
	srv, addr := newTestServer(t,
		gameWindows(100*time.Millisecond, 5*time.Second),
		WithGameOptions(game.WithAnswer(func(lower, upper int) int { return 20 })),
	)
	clients := loggedIn(t, addr, "alice", "bob")
	alice, bob := clients[0], clients[1]

	alice.send(protocol.GameLaunch, models.LobbyRequest{Lobby: "lobby1"})
	alice.status(protocol.GameLaunch, protocol.StatusOK)
	bob.expect(protocol.GameLaunched)
	bob.send(protocol.GameJoin, models.LobbyRequest{Lobby: "lobby1"})
	bob.status(protocol.GameJoin, protocol.StatusOK)
	alice.expect(protocol.GameStart)
	bob.expect(protocol.GameStart)

	res := guess(alice, 20)
	assert.EqualValues(t, 0, res.Content)
	bob.expect(protocol.GameGuessed)

	// bob が抜けると残り全員が正解済みなので終了する
	bob.conn.Close()
	var end models.GameEndEvent
	alice.expectPayload(protocol.GameEnd, &end)
	require.Len(t, end.Leaderboard, 1)
	assert.Equal(t, "alice", end.Leaderboard[0].Username)
	alice.expect(protocol.Left)

	assert.Empty(t, srv.ActiveGames())
}

func TestParseGuess(t *testing.T) {
	cases := []struct {
		raw  string
		want int
		ok   bool
	}{
		{`12`, 12, true},
		{`"12"`, 12, true},
		{`" 7 "`, 7, true},
		{`-3`, -3, true},
		{`"abc"`, 0, false},
		{`1.5`, 0, false},
		{`null`, 0, false},
		{``, 0, false},
		{`[1]`, 0, false},
	}
	for _, tc := range cases {
		got, ok := parseGuess(json.RawMessage(tc.raw))
		assert.Equal(t, tc.ok, ok, tc.raw)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.raw)
		}
	}
}
