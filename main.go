package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"chatserver/chat"
	"chatserver/database" //PostgreSQLとRedisの初期化、設定の読み込み
	"chatserver/handlers" //管理用HTTPとWebSocket
	"chatserver/internal/game"
	"chatserver/internal/transfer"
	"chatserver/models"
	"chatserver/utils" //ロガーの初期化とCronジョブ

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:          "chatserver",
		Short:        "Line-oriented TCP chat server with games, file transfer and encrypted DMs",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := database.LoadConfig(v, configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), config)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "config.json", "path to the JSON config file (optional)")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.Int("chat-port", 1337, "chat server port")
	flags.Int("transfer-port", 1338, "file transfer broker port")
	flags.Int("http-port", 8080, "admin HTTP port (0 disables it)")
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("chat_port", flags.Lookup("chat-port"))
	_ = v.BindPFlag("transfer_port", flags.Lookup("transfer-port"))
	_ = v.BindPFlag("http_port", flags.Lookup("http-port"))
	cmd.AddCommand(newClientCommand())
	return cmd
}

func run(parent context.Context, config models.Config) error {
	logger, err := utils.InitLogger(config.LogLevel) // ロガーの初期化
	if err != nil {
		return err
	}
	defer logger.Sync() // ロガーのクリーンアップ

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 非同期でPostgreSQLとRedisの初期化 (どちらも任意)
	var db *gorm.DB
	var rdb *redis.Client
	var dbErr, redisErr error
	done := make(chan bool)

	go func() {
		if config.DBHost != "" {
			db, dbErr = database.InitPostgreSQL(config, logger)
			if dbErr == nil {
				dbErr = database.AutoMigrate(db)
			}
		}
		done <- true
	}()

	go func() {
		if config.RedisAddr != "" {
			rdb, redisErr = database.InitRedis(config, logger)
		}
		done <- true
	}()

	// 2つの初期化が完了するのを待つ
	<-done
	<-done
	if dbErr != nil {
		return fmt.Errorf("PostgreSQLの初期化に失敗しました: %w", dbErr)
	}
	if redisErr != nil {
		return fmt.Errorf("Redisの初期化に失敗しました: %w", redisErr)
	}

	chatConfig := chat.Config{
		Addr:              net.JoinHostPort(config.BindAddress, strconv.Itoa(config.ChatPort)),
		HeartbeatPeriod:   config.HeartbeatPeriod,
		HeartbeatReaction: config.HeartbeatReaction,
		MaxLineBytes:      config.MaxLineBytes,
		WriteTimeout:      config.WriteTimeout,
		OutboxSize:        config.OutboxSize,
		Greeting:          chat.DefaultConfig().Greeting,
		Game: game.Config{
			Lower:            config.GameLowerBound,
			Upper:            config.GameUpperBound,
			CollectionWindow: config.GameCollectionWindow,
			PlayWindow:       config.GamePlayWindow,
		},
	}

	var options []chat.Option
	deps := handlers.RouterDeps{AllowedOrigins: config.AllowedOrigins}
	var cleaner *cron.Cron
	if db != nil {
		store := database.NewResultStore(db, logger)
		options = append(options, chat.WithResultSink(store))
		deps.Results = store
		// クーロンスケジューラのセットアップと呼び出し
		cleaner = utils.CronCleaner(store, config.ResultRetention, logger)
	}
	if rdb != nil {
		defer rdb.Close()
		presence := database.NewRedisPresence(rdb)
		if err := presence.Reset(ctx); err != nil {
			logger.Warn("オンライン一覧のリセットに失敗しました", zap.Error(err))
		}
		options = append(options, chat.WithPresence(presence))
		deps.Presence = presence
	}

	chatServer := chat.NewServer(chatConfig, logger, options...)
	broker := transfer.NewBroker(logger, transfer.WithPairTimeout(config.TransferPairTimeout))
	deps.Chat = chatServer
	deps.Transfers = broker

	errs := make(chan error, 3)
	go func() {
		errs <- chatServer.ListenAndServe()
	}()
	go func() {
		errs <- broker.ListenAndServe(net.JoinHostPort(config.BindAddress, strconv.Itoa(config.TransferPort)))
	}()

	var httpServer *http.Server
	if config.HTTPPort > 0 {
		httpServer = &http.Server{
			Addr:              net.JoinHostPort(config.BindAddress, strconv.Itoa(config.HTTPPort)),
			Handler:           handlers.SetupRouter(deps, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("管理用HTTPサーバーを起動しました", zap.String("addr", httpServer.Addr))
			errs <- httpServer.ListenAndServe()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("シャットダウンを開始します")
	case runErr = <-errs:
		logger.Error("サーバーが停止しました", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTPサーバーの停止に失敗しました", zap.Error(err))
		}
	}
	if err := chatServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("チャットサーバーの停止に失敗しました", zap.Error(err))
	}
	if err := broker.Close(); err != nil {
		logger.Warn("転送ブローカーの停止に失敗しました", zap.Error(err))
	}
	if cleaner != nil {
		<-cleaner.Stop().Done()
	}

	if runErr != nil && !errors.Is(runErr, chat.ErrServerClosed) &&
		!errors.Is(runErr, transfer.ErrBrokerClosed) && !errors.Is(runErr, http.ErrServerClosed) {
		return runErr
	}
	logger.Info("シャットダウンが完了しました")
	return nil
}
