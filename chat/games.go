package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"chatserver/internal/game"
	"chatserver/models"
	"chatserver/protocol"
)

func handleGameLaunch(c *Connection, msg protocol.Message) error {
	var req models.LobbyRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if c.currentGame() != nil {
		c.fail(msg.Type, protocol.StatusInAnotherGame)
		return nil
	}

	_, err := c.server.games.Launch(req.Lobby, c, c.server.onGameEnd)
	switch {
	case errors.Is(err, game.ErrInvalidLobby):
		c.fail(msg.Type, protocol.StatusInvalidLobby)
		return nil
	case errors.Is(err, game.ErrLobbyTaken):
		c.fail(msg.Type, protocol.StatusLobbyTaken)
		return nil
	case err != nil:
		return err
	}

	c.ok(msg.Type, req.Lobby)
	c.server.broadcastExcept(c, protocol.GameLaunched, models.LobbyEvent{Lobby: req.Lobby})
	return nil
}

func handleGameJoin(c *Connection, msg protocol.Message) error {
	var req models.LobbyRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if !game.ValidLobby(req.Lobby) {
		c.fail(msg.Type, protocol.StatusInvalidLobby)
		return nil
	}
	g, ok := c.server.games.Get(req.Lobby)
	if !ok {
		c.notFound(msg.Type, "Lobby", req.Lobby)
		return nil
	}
	if cur := c.currentGame(); cur != nil {
		if cur == g {
			c.fail(msg.Type, protocol.StatusAlreadyJoined)
		} else {
			c.fail(msg.Type, protocol.StatusInAnotherGame)
		}
		return nil
	}

	switch err := g.Join(c); {
	case errors.Is(err, game.ErrJoinClosed):
		c.fail(msg.Type, protocol.StatusJoinClosed)
	case errors.Is(err, game.ErrAlreadyJoined):
		c.fail(msg.Type, protocol.StatusAlreadyJoined)
	case err != nil:
		return err
	default:
		c.ok(msg.Type, req.Lobby)
	}
	return nil
}

func handleGameGuess(c *Connection, msg protocol.Message) error {
	var req models.GuessRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	g := c.currentGame()
	if g == nil {
		c.fail(msg.Type, protocol.StatusNotInGame)
		return nil
	}
	guess, ok := parseGuess(req.Guess)
	if !ok {
		c.fail(msg.Type, protocol.StatusGuessNotNumber)
		return nil
	}

	hint, err := g.Guess(c, guess)
	switch {
	case errors.Is(err, game.ErrNotStarted):
		c.fail(msg.Type, protocol.StatusGameNotStarted)
	case errors.Is(err, game.ErrOutOfRange):
		bounds := c.server.games.Config()
		c.respond(msg.Type, protocol.StatusGuessOutOfRange, fmt.Sprintf("%d-%d", bounds.Lower, bounds.Upper))
	case errors.Is(err, game.ErrAlreadyGuessed):
		c.fail(msg.Type, protocol.StatusAlreadyGuessed)
	case errors.Is(err, game.ErrNotMember):
		c.fail(msg.Type, protocol.StatusNotInGame)
	case err != nil:
		return err
	default:
		c.ok(msg.Type, hint)
	}
	return nil
}

// parseGuess accepts a JSON integer or a string holding one.
func parseGuess(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}
