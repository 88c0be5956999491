package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

const (
	// Префиксы ключей Redis
	DocumentKeyPrefix   = "doc:%s:%s"
	CollectionKeyPrefix = "idx:%s"
	ChangesChannel      = "changes:%s"

	redisMergeRetries = 10
	redisMGetChunk    = 500
)

// redisStore хранит документы JSON-строками, состав коллекции - в SET,
// изменения рассылает через pub/sub канал коллекции
type redisStore struct {
	rdb *redis.Client
	log logger.Logger
}

func NewRedisStore(rdb *redis.Client, log logger.Logger) DocumentStore {
	return &redisStore{
		rdb: rdb,
		log: log,
	}
}

func (r *redisStore) docKey(collection, id string) string {
	return fmt.Sprintf(DocumentKeyPrefix, collection, id)
}

func (r *redisStore) collectionKey(collection string) string {
	return fmt.Sprintf(CollectionKeyPrefix, collection)
}

func (r *redisStore) channel(collection string) string {
	return fmt.Sprintf(ChangesChannel, collection)
}

func (r *redisStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	raw, err := r.rdb.Get(ctx, r.docKey(collection, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(collection, id)
		}
		r.log.Error("Failed to get document from Redis", "error", err, "collection", collection, "id", id)
		return nil, mapRedisError(err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &Document{ID: id, Data: data}, nil
}

func (r *redisStore) Set(ctx context.Context, collection, id string, value map[string]interface{}, opts SetOptions) error {
	if !opts.Merge {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.docKey(collection, id), raw, 0)
			pipe.SAdd(ctx, r.collectionKey(collection), id)
			return nil
		})
		if err != nil {
			r.log.Error("Failed to set document in Redis", "error", err, "collection", collection, "id", id)
			return mapRedisError(err)
		}
		r.publish(ctx, collection)
		return nil
	}

	return r.mergeWrite(ctx, collection, id, value, true)
}

func (r *redisStore) Update(ctx context.Context, collection, id string, patch map[string]interface{}) error {
	return r.mergeWrite(ctx, collection, id, patch, false)
}

// mergeWrite - оптимистичная транзакция WATCH/MULTI; при конфликте повторяется
func (r *redisStore) mergeWrite(ctx context.Context, collection, id string, patch map[string]interface{}, upsert bool) error {
	key := r.docKey(collection, id)

	txf := func(tx *redis.Tx) error {
		existing := map[string]interface{}{}
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if !upsert {
				return notFound(collection, id)
			}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return fmt.Errorf("failed to unmarshal document: %w", err)
			}
		}

		merged, err := json.Marshal(mergeData(existing, patch))
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, merged, 0)
			pipe.SAdd(ctx, r.collectionKey(collection), id)
			return nil
		})
		return err
	}

	for i := 0; i < redisMergeRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			r.publish(ctx, collection)
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		r.log.Error("Failed to merge document in Redis", "error", err, "collection", collection, "id", id)
		return mapRedisError(err)
	}

	return fmt.Errorf("merge %s/%s: too many concurrent writers: %w", collection, id, apperrors.ErrStoreUnavailable)
}

func (r *redisStore) Remove(ctx context.Context, collection, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.docKey(collection, id))
		pipe.SRem(ctx, r.collectionKey(collection), id)
		return nil
	})
	if err != nil {
		r.log.Error("Failed to delete document from Redis", "error", err, "collection", collection, "id", id)
		return mapRedisError(err)
	}
	r.publish(ctx, collection)
	return nil
}

// Query: в Redis нет вторичных индексов, поэтому фильтр и сортировка выполняются здесь
func (r *redisStore) Query(ctx context.Context, q Query) ([]Document, error) {
	ids, err := r.rdb.SMembers(ctx, r.collectionKey(q.Collection)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Document{}, nil
		}
		r.log.Error("Failed to list collection", "error", err, "collection", q.Collection)
		return nil, mapRedisError(err)
	}

	docs := make([]Document, 0, len(ids))
	for start := 0; start < len(ids); start += redisMGetChunk {
		end := start + redisMGetChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		keys := make([]string, len(chunk))
		for i, id := range chunk {
			keys[i] = r.docKey(q.Collection, id)
		}

		values, err := r.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			r.log.Error("Failed to load documents", "error", err, "collection", q.Collection)
			return nil, mapRedisError(err)
		}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				// документ удален между SMEMBERS и MGET
				continue
			}
			var data map[string]interface{}
			if err := json.Unmarshal([]byte(s), &data); err != nil {
				r.log.Warn("Failed to unmarshal document", "error", err, "id", chunk[i])
				continue
			}
			docs = append(docs, Document{ID: chunk[i], Data: data})
		}
	}

	return applyQuery(docs, q), nil
}

func (r *redisStore) Subscribe(ctx context.Context, q Query, onData func([]Document), onError func(error)) (Unsubscribe, error) {
	subCtx := context.WithoutCancel(ctx)
	sub := r.rdb.Subscribe(subCtx, r.channel(q.Collection))

	// убеждаемся, что подписка действительно оформлена
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", mapRedisError(err))
	}

	lq := startLiveQuery(subCtx, q, r.Query, onData, onError)

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-lq.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				lq.poke()
			}
		}
	}()

	return lq.stop, nil
}

func (r *redisStore) Claim(ctx context.Context, collection, id, owner string) (string, error) {
	raw, err := json.Marshal(map[string]interface{}{ClaimOwnerField: owner})
	if err != nil {
		return "", fmt.Errorf("failed to marshal claim: %w", err)
	}

	key := r.docKey(collection, id)
	created, err := r.rdb.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		r.log.Error("Failed to claim document", "error", err, "collection", collection, "id", id)
		return "", mapRedisError(err)
	}
	if created {
		if err := r.rdb.SAdd(ctx, r.collectionKey(collection), id).Err(); err != nil {
			r.log.Warn("Failed to index claimed document", "error", err, "collection", collection, "id", id)
		}
		r.publish(ctx, collection)
		return owner, nil
	}

	doc, err := r.Get(ctx, collection, id)
	if err != nil {
		return "", err
	}
	return claimOwner(doc.Data), nil
}

// SetMissing - та же транзакция WATCH/MULTI, что и mergeWrite: параллельный создатель
// срывает транзакцию, и повтор уже видит его документ
func (r *redisStore) SetMissing(ctx context.Context, collection, id string, defaults map[string]interface{}) (bool, error) {
	data, err := normalizeData(defaults)
	if err != nil {
		return false, err
	}
	key := r.docKey(collection, id)

	var created, changed bool
	txf := func(tx *redis.Tx) error {
		created, changed = false, false
		next := data

		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			created = true
		case err != nil:
			return err
		default:
			existing := map[string]interface{}{}
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return fmt.Errorf("failed to unmarshal document: %w", err)
			}
			patch := missingFields(existing, data)
			if len(patch) == 0 {
				return nil
			}
			next = mergeData(existing, patch)
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.SAdd(ctx, r.collectionKey(collection), id)
			return nil
		})
		changed = err == nil
		return err
	}

	for i := 0; i < redisMergeRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			if changed {
				r.publish(ctx, collection)
			}
			return created, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		r.log.Error("Failed to fill document in Redis", "error", err, "collection", collection, "id", id)
		return false, mapRedisError(err)
	}

	return false, fmt.Errorf("fill %s/%s: too many concurrent writers: %w", collection, id, apperrors.ErrStoreUnavailable)
}

func (r *redisStore) GenerateID(collection string) string {
	return uuid.Must(uuid.NewV7()).String()
}

// Close не закрывает клиент: подключение принадлежит вызывающему
func (r *redisStore) Close() error {
	return nil
}

func (r *redisStore) publish(ctx context.Context, collection string) {
	if err := r.rdb.Publish(ctx, r.channel(collection), "1").Err(); err != nil {
		// Не критичная ошибка: подписчики увидят изменение при следующей записи
		r.log.Warn("Failed to publish change", "error", err, "collection", collection)
	}
}

func mapRedisError(err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "NOPERM") || strings.HasPrefix(err.Error(), "NOAUTH") {
		return fmt.Errorf("%v: %w", err, apperrors.ErrPermission)
	}
	return fmt.Errorf("%v: %w", err, apperrors.ErrStoreUnavailable)
}
