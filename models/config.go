package models

import "time"

// Config 構造体はサーバー全体の設定情報を保持します。
type Config struct {
	BindAddress  string `mapstructure:"bind_address"`
	ChatPort     int    `mapstructure:"chat_port" validate:"min=0,max=65535"`
	TransferPort int    `mapstructure:"transfer_port" validate:"min=0,max=65535"`
	HTTPPort     int    `mapstructure:"http_port" validate:"min=0,max=65535"`
	LogLevel     string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	// ハートビート
	HeartbeatPeriod   time.Duration `mapstructure:"heartbeat_period" validate:"gt=0"`
	HeartbeatReaction time.Duration `mapstructure:"heartbeat_reaction" validate:"gt=0,ltfield=HeartbeatPeriod"`
	MaxLineBytes      int           `mapstructure:"max_line_bytes" validate:"min=64"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	OutboxSize        int           `mapstructure:"outbox_size" validate:"min=1"`

	// 数当てゲーム
	GameLowerBound       int           `mapstructure:"game_lower_bound"`
	GameUpperBound       int           `mapstructure:"game_upper_bound" validate:"gtfield=GameLowerBound"`
	GameCollectionWindow time.Duration `mapstructure:"game_collection_window" validate:"gt=0"`
	GamePlayWindow       time.Duration `mapstructure:"game_play_window" validate:"gt=0"`

	// ファイル転送
	TransferPairTimeout time.Duration `mapstructure:"transfer_pair_timeout" validate:"gt=0"`

	// PostgreSQL (db_host が空なら無効)
	DBHost          string        `mapstructure:"db_host"`
	DBUser          string        `mapstructure:"db_user"`
	DBPassword      string        `mapstructure:"db_password"`
	DBName          string        `mapstructure:"db_name"`
	DBSSLMode       string        `mapstructure:"db_sslmode"`
	ResultRetention time.Duration `mapstructure:"result_retention" validate:"gt=0"`

	// Redis (redis_addr が空なら無効)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"min=0"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
}
