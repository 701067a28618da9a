package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"chatserver/models"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// SetDefaults は設定のデフォルト値を登録します。
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bind_address", "")
	v.SetDefault("chat_port", 1337)
	v.SetDefault("transfer_port", 1338)
	v.SetDefault("http_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("heartbeat_period", "30s")
	v.SetDefault("heartbeat_reaction", "5s")
	v.SetDefault("max_line_bytes", 8192)
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("outbox_size", 256)
	v.SetDefault("game_lower_bound", 1)
	v.SetDefault("game_upper_bound", 50)
	v.SetDefault("game_collection_window", "60s")
	v.SetDefault("game_play_window", "60s")
	v.SetDefault("transfer_pair_timeout", "2m")
	v.SetDefault("db_host", "")
	v.SetDefault("db_user", "")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("result_retention", "720h")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("allowed_origins", []string{"*"})
}

// LoadConfig loads the configuration from a JSON file (optional) plus CHAT_* environment variables.
func LoadConfig(v *viper.Viper, filename string) (models.Config, error) {
	var config models.Config

	SetDefaults(v)
	v.SetEnvPrefix("chat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return config, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
			}
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("設定のデコードに失敗しました: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return config, fmt.Errorf("設定が不正です: %w", err)
	}
	return config, nil
}

func InitPostgreSQL(config models.Config, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s dbname=%s password=%s sslmode=%s",
		config.DBHost, config.DBUser, config.DBName, config.DBPassword, config.DBSSLMode)

	const maxRetries = 3
	const retryInterval = 5 * time.Second
	var err error
	for i := 0; i <= maxRetries; i++ {
		var gormDB *gorm.DB
		gormDB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			return gormDB, nil
		}
		logger.Error("データベース接続のリトライ", zap.Int("retry", i), zap.Error(err))
		if i < maxRetries {
			time.Sleep(retryInterval)
		}
	}
	return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
}

// AutoMigrate はゲーム結果のテーブルを作成します。
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.GameResult{}, &models.GameScore{}); err != nil {
		return fmt.Errorf("マイグレーションに失敗しました: %w", err)
	}
	return nil
}

func InitRedis(config models.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	// Redisへの接続テスト
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Error("Failed to connect to Redis", zap.Error(err))
		rdb.Close()
		return nil, err
	}

	logger.Info("Connected to Redis", zap.String("addr", config.RedisAddr))
	return rdb, nil
}
