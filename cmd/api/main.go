package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/BakhodirAbdullayev/orbital/internal/auth"
	"github.com/BakhodirAbdullayev/orbital/internal/config"
	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/db"
	"github.com/BakhodirAbdullayev/orbital/internal/logger"
	"github.com/BakhodirAbdullayev/orbital/internal/middleware"
	"github.com/BakhodirAbdullayev/orbital/internal/presence"
	"github.com/BakhodirAbdullayev/orbital/internal/realtime"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
	"github.com/BakhodirAbdullayev/orbital/internal/storage"
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

	if err := run(cfg, lg); err != nil {
		lg.Fatal("api server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Initialize database
	dbClient, err := db.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer func() {
		_ = dbClient.Close(context.Background())
	}()

	// Ensure indexes exist
	if err := dbClient.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	usersStore := data.NewUsersStore(dbClient.UsersCollection())
	chatsStore := data.NewChatsStore(dbClient.ChatsCollection())
	msgsStore := data.NewMessagesStore(dbClient.MessagesCollection())

	// Realtime state and token revocation live in Redis when it is
	// configured; a single instance can run without it.
	var (
		rtStore realtime.Store
		revoker auth.Revoker
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		rtStore = realtime.NewRedisStore(rdb)
		revoker = auth.NewRedisRevoker(rdb)
	} else {
		lg.Warn("redis not configured; realtime state and revocations are in memory")
		rtStore = realtime.NewMemoryStore()
		revoker = auth.NewMemoryRevoker()
	}
	rtManager := realtime.NewManager(rtStore, lg.Named("realtime"))

	// Session tokens. JWT_KEYS enables rotation; JWT_SECRET is the
	// single-key fallback.
	var jwtMgr *auth.JWTManager
	if cfg.JWT.Keys != "" {
		keys, err := config.ParseKeys(cfg.JWT.Keys)
		if err != nil {
			return err
		}
		jwtMgr = auth.NewJWTManagerFromKeys(keys, cfg.JWT.ActiveKID, cfg.JWT.TTL)
	} else {
		jwtMgr = auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TTL)
	}

	providers, err := auth.LoadProviderVerifier(cfg.Auth.Providers)
	if err != nil {
		return fmt.Errorf("failed to load identity providers: %w", err)
	}

	var objects storage.ObjectStore
	if cfg.S3.Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return fmt.Errorf("failed to configure object storage: %w", err)
		}
		objects = s3Store
	} else {
		lg.Warn("s3 bucket not configured; uploads are kept in memory")
		objects = storage.NewMemoryStore()
	}

	if cfg.Presence.MirrorOffline {
		mirror := presence.NewMirror(rtStore, usersStore, lg.Named("presence"))
		go func() {
			if err := mirror.Run(ctx); err != nil {
				lg.Error("presence mirror stopped", zap.Error(err))
			}
		}()
	}

	// Throttle the sign-in endpoints (small burst to allow a couple of
	// quick retries), then chain interceptors.
	attempts := middleware.NewAttemptLimiter(cfg.RateLimit.RPM, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
	defer attempts.Stop()
	limited := map[string]bool{
		rpc.SignUpFullMethod:             true,
		rpc.SignInFullMethod:             true,
		rpc.SignInWithProviderFullMethod: true,
	}

	var serverOpts []grpc.ServerOption

	// If TLS certs are configured, create server credentials
	if cfg.TLS.Cert != "" && cfg.TLS.Key != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return fmt.Errorf("failed to load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	// logging -> rate limiter -> auth
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			middleware.LoggingUnaryInterceptor(lg),
			middleware.RateLimitUnaryInterceptor(attempts, limited),
			authUnaryInterceptor(jwtMgr, revoker),
		),
		grpc.ChainStreamInterceptor(
			middleware.LoggingStreamInterceptor(lg),
			authStreamInterceptor(jwtMgr, revoker),
		),
	)

	grpcServer := grpc.NewServer(serverOpts...)

	srv := newServer(serverDeps{
		Users:           usersStore,
		Chats:           chatsStore,
		Messages:        msgsStore,
		Changes:         mongoChanges{users: usersStore, chats: chatsStore, msgs: msgsStore},
		Auth:            jwtMgr,
		Providers:       providers,
		Revoker:         revoker,
		Realtime:        rtManager,
		Objects:         objects,
		PasswordEnabled: cfg.Auth.PasswordEnabled,
		MaxUploadBytes:  cfg.Upload.MaxBytes,
		Log:             lg,
	})
	registerService(grpcServer, srv)

	listenAddr := fmt.Sprintf(":%d", cfg.App.Port)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		lg.Info("gRPC server listening", zap.String("addr", listenAddr))
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("gRPC server exit: %w", err)
	case <-ctx.Done():
	}

	lg.Info("shutting down gRPC server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// end watches and realtime sessions first; clients never close them
	srv.Shutdown()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		lg.Warn("graceful stop timed out; forcing")
		grpcServer.Stop()
	}

	// connections still open run their deferred writes
	rtManager.CloseAll(shutdownCtx)
	return nil
}
