package repository

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"matrimony_chat/internal/config"
	"matrimony_chat/pkg/logger"
)

// Connections - открытые в main подключения; nil - бэкенд не настроен
type Connections struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
	Mongo *mongo.Database
}

type Repositories struct {
	Documents DocumentStore
	Identity  IdentityStore
	Local     LocalStoreFactory
	RateLimit RateLimitRepository
	Audit     AuditRepository
}

func NewRepositories(conns Connections, cfg *config.Config, log logger.Logger) (*Repositories, error) {
	var documents DocumentStore
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		documents = NewMemoryStore(log)
	case config.StoreDriverRedis:
		if conns.Redis == nil {
			return nil, fmt.Errorf("redis store requires a redis connection")
		}
		documents = NewRedisStore(conns.Redis, log)
	case config.StoreDriverPostgres:
		if conns.DB == nil {
			return nil, fmt.Errorf("postgres store requires a database connection")
		}
		documents = NewPostgresStore(conns.DB, log)
	case config.StoreDriverMongo:
		if conns.Mongo == nil {
			return nil, fmt.Errorf("mongo store requires a mongo connection")
		}
		documents = NewMongoStore(conns.Mongo, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	log.Info("Document store initialized", "driver", cfg.Store.Driver)

	repos := &Repositories{
		Documents: documents,
		Identity:  NewIdentityStore(),
		Audit:     NewAuditRepository(documents, log),
	}

	// Сессии и лимиты живут в Redis, если он есть, иначе в памяти процесса
	if conns.Redis != nil {
		repos.Local = NewRedisLocalFactory(conns.Redis, cfg.Chat.SessionTTL, log)
		repos.RateLimit = NewRateLimitRepository(conns.Redis, log)
		log.Info("Session storage initialized", "backend", "redis")
	} else {
		repos.Local = NewMemoryLocalFactory()
		repos.RateLimit = NewMemoryRateLimitRepository(time.Minute)
		log.Info("Session storage initialized", "backend", "memory")
	}

	return repos, nil
}

func (r *Repositories) Close() error {
	if err := r.RateLimit.Close(); err != nil {
		return err
	}
	return r.Documents.Close()
}
