package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, 1337, config.ChatPort)
	assert.Equal(t, 1338, config.TransferPort)
	assert.Equal(t, 30*time.Second, config.HeartbeatPeriod)
	assert.Equal(t, 5*time.Second, config.HeartbeatReaction)
	assert.Equal(t, 1, config.GameLowerBound)
	assert.Equal(t, 50, config.GameUpperBound)
	assert.Equal(t, 2*time.Minute, config.TransferPairTimeout)
	assert.Equal(t, []string{"*"}, config.AllowedOrigins)
	assert.Empty(t, config.DBHost)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"chat_port": 4000,
		"heartbeat_period": "10s",
		"game_upper_bound": 100,
		"redis_addr": "localhost:6379"
	}`), 0o600))
	t.Setenv("CHAT_CHAT_PORT", "4001")
	t.Setenv("CHAT_DB_HOST", "db.internal")

	config, err := LoadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 4001, config.ChatPort)
	assert.Equal(t, 10*time.Second, config.HeartbeatPeriod)
	assert.Equal(t, 100, config.GameUpperBound)
	assert.Equal(t, "localhost:6379", config.RedisAddr)
	assert.Equal(t, "db.internal", config.DBHost)
}

func TestLoadConfigValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"heartbeat_period": "1s",
		"heartbeat_reaction": "5s"
	}`), 0o600))

	_, err := LoadConfig(viper.New(), path)
	assert.Error(t, err)

	broken := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"chat_port":`), 0o600))
	_, err = LoadConfig(viper.New(), broken)
	assert.Error(t, err)
}
