package utils

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubPurger struct {
	before time.Time
	n      int64
	err    error
}

func (s *stubPurger) PurgeResults(_ context.Context, before time.Time) (int64, error) {
	s.before = before
	return s.n, s.err
}

func TestPurgeExpiredResults(t *testing.T) {
	store := &stubPurger{n: 3}
	deleted := PurgeExpiredResults(store, 24*time.Hour, zap.NewNop())
	assert.Equal(t, int64(3), deleted)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), store.before, time.Second)

	core, logs := observer.New(zapcore.ErrorLevel)
	store.err = errors.New("db down")
	assert.Zero(t, PurgeExpiredResults(store, time.Hour, zap.New(core)))
	assert.Equal(t, 1, logs.Len())
}

func TestCronCleanerSchedulesDailyJob(t *testing.T) {
	c := CronCleaner(&stubPurger{}, time.Hour, zap.NewNop())
	defer c.Stop()

	entries := c.Entries()
	require.Len(t, entries, 1)
	next := entries[0].Next
	assert.Equal(t, 3, next.Hour())
	assert.Zero(t, next.Minute())
}

func TestCronLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewCronLogger(zap.New(core))

	l.Info("tick", "entry", 1)
	l.Error(errors.New("boom"), "job failed", "entry", 2)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "cron", entries[0].LoggerName)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestInitLogger(t *testing.T) {
	logger, err := InitLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = InitLogger("loud")
	assert.Error(t, err)
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(RequestLogger(zap.New(core)))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusTeapot, "pong") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/ping", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}
