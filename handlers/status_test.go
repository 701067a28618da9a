package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatserver/chat"
	"chatserver/internal/transfer"
	"chatserver/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubResults struct {
	results []models.GameResult
	err     error
	limit   int
}

func (s *stubResults) RecentResults(_ context.Context, limit int) ([]models.GameResult, error) {
	s.limit = limit
	return s.results, s.err
}

type stubPresence []string

func (p stubPresence) Members(context.Context) ([]string, error) {
	return p, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, results ResultReader, presence PresenceReader) (*gin.Engine, *chat.Server) {
	t.Helper()
	srv := chat.NewServer(chat.DefaultConfig(), zap.NewNop())
	broker := transfer.NewBroker(zap.NewNop())
	t.Cleanup(func() { broker.Close() })
	router := SetupRouter(RouterDeps{
		Chat:      srv,
		Transfers: broker,
		Results:   results,
		Presence:  presence,
	}, zap.NewNop())
	return router, srv
}

func get(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealthAndUsers(t *testing.T) {
	router, srv := newRouter(t, nil, nil)

	client, server := net.Pipe()
	defer client.Close()
	go srv.ServeTransport(chat.NewTCPTransport(server, 1024, time.Second))
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()
	_, err := client.Write([]byte(`LOGIN {"username":"alice"}` + "\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(srv.OnlineUsers()) == 1 }, time.Second, 10*time.Millisecond)

	w, body := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["users"])
	assert.EqualValues(t, 1, body["connections"])

	_, body = get(t, router, "/users")
	assert.Equal(t, []any{"alice"}, body["users"])

	_, body = get(t, router, "/games")
	assert.Empty(t, body["games"])

	_, body = get(t, router, "/transfers")
	assert.EqualValues(t, 0, body["completed"])
}

func TestResultsHandler(t *testing.T) {
	store := &stubResults{results: []models.GameResult{{
		Model:   gorm.Model{ID: 7},
		Lobby:   "lobby1",
		Outcome: "finished",
		Players: 2,
		Winner:  "bob",
		Scores:  []models.GameScore{{Username: "bob", ElapsedMs: 1500, Rank: 1}},
	}}}
	router, _ := newRouter(t, store, nil)

	w, body := get(t, router, "/results?limit=500")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxResultLimit, store.limit)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "lobby1", first["lobby"])
	assert.Equal(t, "bob", first["winner"])

	w, _ = get(t, router, "/results?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	store.err = errors.New("boom")
	w, _ = get(t, router, "/results")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, defaultResultLimit, store.limit)
}

func TestOptionalStoresUnavailable(t *testing.T) {
	router, _ := newRouter(t, nil, nil)

	w, _ := get(t, router, "/results")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w, _ = get(t, router, "/presence")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	router, _ = newRouter(t, nil, stubPresence{"alice", "bob"})
	w, body := get(t, router, "/presence")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"alice", "bob"}, body["users"])
}
