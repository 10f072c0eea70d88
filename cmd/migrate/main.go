// Command migrate stamps type "text" on every message stored without a
// type. It reads the same configuration as the api server and is safe to
// run more than once.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/BakhodirAbdullayev/orbital/internal/config"
	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/db"
	"github.com/BakhodirAbdullayev/orbital/internal/logger"
	"github.com/BakhodirAbdullayev/orbital/internal/migrate"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg.Named("migrate")); err != nil {
		lg.Fatal("migration failed", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	if cfg.Mongo.URI == "" {
		return errors.New("mongo.uri (MONGO_URI) must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer func() {
		_ = dbClient.Close(context.Background())
	}()

	chats := data.NewChatsStore(dbClient.ChatsCollection())
	msgs := data.NewMessagesStore(dbClient.MessagesCollection())

	lg.Info("starting message type backfill", zap.String("database", cfg.Mongo.Database))
	st, err := migrate.BackfillMessageType(ctx, chats, msgs, lg)
	if err != nil {
		return err
	}
	lg.Debug("bulk writes sent", zap.Int("batches", st.Batches))
	return nil
}
