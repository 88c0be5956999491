package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"matrimony_chat/internal/config"
	"matrimony_chat/internal/handler"
	"matrimony_chat/internal/middleware"
	"matrimony_chat/internal/repository"
	"matrimony_chat/internal/service"
	"matrimony_chat/pkg/logger"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.NewWithMode(cfg.Log.Level, cfg.Environment)
	defer appLogger.Sync()

	conns, closeConns, err := connect(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to backends", "error", err)
	}
	defer closeConns()

	// Инициализация репозиториев
	repos, err := repository.NewRepositories(conns, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize repositories", "error", err)
	}

	contacts, err := service.LoadContacts(cfg.Chat.ContactsFile, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to load contacts", "error", err)
	}

	// Инициализация сервисов
	services := service.NewServices(repos, contacts, cfg, appLogger)

	// Инициализация middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Issuer, repos.Identity, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(repos.RateLimit, cfg.RateLimit.APIPerMinute, appLogger)

	// Инициализация handlers
	handlers := handler.NewHandlers(services, repos, cfg, appLogger)
	router := handler.SetupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("Starting server", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// сначала HTTP, затем подписки сессий и отложенные автоответы
		err := srv.Shutdown(shutdownCtx)
		services.Sessions.CloseAll()
		services.Feed.WaitAutoReplies()
		if cerr := repos.Close(); cerr != nil {
			appLogger.Warn("Failed to close repositories", "error", cerr)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Server exited")
}

// connect открывает только те подключения, которые нужны выбранной конфигурации
func connect(cfg *config.Config, log logger.Logger) (repository.Connections, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var conns repository.Connections
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Store.Driver == config.StoreDriverPostgres {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
		if err != nil {
			return conns, closeAll, fmt.Errorf("parse database DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
		poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
		poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

		dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return conns, closeAll, fmt.Errorf("connect to database: %w", err)
		}
		closers = append(closers, dbPool.Close)

		if err := dbPool.Ping(ctx); err != nil {
			return conns, closeAll, fmt.Errorf("ping database: %w", err)
		}
		if err := repository.Migrate(ctx, dbPool); err != nil {
			return conns, closeAll, fmt.Errorf("migrate database: %w", err)
		}
		conns.DB = dbPool
		log.Info("Database connection established")
	}

	// Redis нужен хранилищу redis и, если задан адрес, сессиям и лимитам
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = rdb.Close() })

		if err := rdb.Ping(ctx).Err(); err != nil {
			return conns, closeAll, fmt.Errorf("connect to redis: %w", err)
		}
		conns.Redis = rdb
		log.Info("Redis connection established")
	}

	if cfg.Store.Driver == config.StoreDriverMongo {
		db, err := repository.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return conns, closeAll, fmt.Errorf("connect to mongo: %w", err)
		}
		closers = append(closers, func() {
			dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer dcancel()
			_ = db.Client().Disconnect(dctx)
		})

		if err := repository.CreateMongoIndexes(ctx, db); err != nil {
			return conns, closeAll, fmt.Errorf("create mongo indexes: %w", err)
		}
		conns.Mongo = db
		log.Info("MongoDB connection established", "database", cfg.Mongo.Database)
	}

	return conns, closeAll, nil
}
