package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

// memoryStore - документное хранилище в памяти процесса с живыми запросами.
// Используется в режиме разработки и в тестах
type memoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]map[string]interface{}
	subs map[string]map[*liveQuery]struct{}

	// индексы "collection/filterField/orderField"; nil - индексы не требуются
	indexes map[string]bool
	log     logger.Logger
}

type MemoryStoreOption func(*memoryStore)

// WithRequiredIndexes включает проверку составных индексов для запросов с фильтром и сортировкой
func WithRequiredIndexes(keys ...string) MemoryStoreOption {
	return func(s *memoryStore) {
		s.indexes = make(map[string]bool, len(keys))
		for _, k := range keys {
			s.indexes[k] = true
		}
	}
}

// IndexKey - ключ составного индекса для WithRequiredIndexes
func IndexKey(collection, filterField, orderField string) string {
	return collection + "/" + filterField + "/" + orderField
}

func NewMemoryStore(log logger.Logger, opts ...MemoryStoreOption) DocumentStore {
	s := &memoryStore{
		docs: make(map[string]map[string]map[string]interface{}),
		subs: make(map[string]map[*liveQuery]struct{}),
		log:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *memoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.docs[collection][id]
	if !ok {
		return nil, notFound(collection, id)
	}
	cp, err := normalizeData(data)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Data: cp}, nil
}

func (s *memoryStore) Set(ctx context.Context, collection, id string, value map[string]interface{}, opts SetOptions) error {
	data, err := normalizeData(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]map[string]interface{})
		s.docs[collection] = coll
	}
	if existing, ok := coll[id]; ok && opts.Merge {
		data = mergeData(existing, data)
	}
	coll[id] = data
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *memoryStore) Update(ctx context.Context, collection, id string, patch map[string]interface{}) error {
	data, err := normalizeData(patch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.docs[collection][id]
	if !ok {
		s.mu.Unlock()
		return notFound(collection, id)
	}
	s.docs[collection][id] = mergeData(existing, data)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *memoryStore) Remove(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	if coll, ok := s.docs[collection]; ok {
		delete(coll, id)
	}
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *memoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := s.checkIndex(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	docs := make([]Document, 0, len(s.docs[q.Collection]))
	for id, data := range s.docs[q.Collection] {
		cp, err := normalizeData(data)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		docs = append(docs, Document{ID: id, Data: cp})
	}
	s.mu.RUnlock()

	return applyQuery(docs, q), nil
}

func (s *memoryStore) Subscribe(ctx context.Context, q Query, onData func([]Document), onError func(error)) (Unsubscribe, error) {
	// регистрация под блокировкой: первый запуск запроса ждет ее завершения
	s.mu.Lock()
	lq := startLiveQuery(ctx, q, s.Query, onData, onError)
	if _, ok := s.subs[q.Collection]; !ok {
		s.subs[q.Collection] = make(map[*liveQuery]struct{})
	}
	s.subs[q.Collection][lq] = struct{}{}
	s.mu.Unlock()

	return func() {
		lq.stop()
		s.mu.Lock()
		delete(s.subs[q.Collection], lq)
		s.mu.Unlock()
	}, nil
}

func (s *memoryStore) Claim(ctx context.Context, collection, id, owner string) (string, error) {
	s.mu.Lock()
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]map[string]interface{})
		s.docs[collection] = coll
	}
	if existing, ok := coll[id]; ok {
		s.mu.Unlock()
		return claimOwner(existing), nil
	}
	coll[id] = map[string]interface{}{ClaimOwnerField: owner}
	s.mu.Unlock()

	s.notify(collection)
	return owner, nil
}

func (s *memoryStore) SetMissing(ctx context.Context, collection, id string, defaults map[string]interface{}) (bool, error) {
	data, err := normalizeData(defaults)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]map[string]interface{})
		s.docs[collection] = coll
	}
	existing, ok := coll[id]
	if !ok {
		coll[id] = data
		s.mu.Unlock()
		s.notify(collection)
		return true, nil
	}
	patch := missingFields(existing, data)
	if len(patch) == 0 {
		s.mu.Unlock()
		return false, nil
	}
	coll[id] = mergeData(existing, patch)
	s.mu.Unlock()

	s.notify(collection)
	return false, nil
}

func (s *memoryStore) GenerateID(collection string) string {
	return uuid.Must(uuid.NewV7()).String()
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.subs {
		for lq := range subs {
			lq.stop()
		}
	}
	s.subs = make(map[string]map[*liveQuery]struct{})
	return nil
}

func (s *memoryStore) notify(collection string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for lq := range s.subs[collection] {
		lq.poke()
	}
}

func (s *memoryStore) checkIndex(q Query) error {
	if s.indexes == nil || q.EqualityField == "" || q.OrderByField == "" {
		return nil
	}
	key := IndexKey(q.Collection, q.EqualityField, q.OrderByField)
	if !s.indexes[key] {
		return fmt.Errorf("query %s: %w", key, apperrors.ErrIndexMissing)
	}
	return nil
}
