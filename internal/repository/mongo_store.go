package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

// Интервал опроса, если change streams недоступны (standalone без replica set)
const mongoPollInterval = 2 * time.Second

type mongoStore struct {
	db           *mongo.Database
	log          logger.Logger
	pollInterval time.Duration
}

func NewMongoStore(db *mongo.Database, log logger.Logger) DocumentStore {
	return &mongoStore{db: db, log: log, pollInterval: mongoPollInterval}
}

// ConnectMongo подключается к MongoDB и проверяет соединение
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// CreateMongoIndexes создает индексы под запросы ленты и списка комнат
func CreateMongoIndexes(ctx context.Context, db *mongo.Database) error {
	feed := mongo.IndexModel{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "timestampMs", Value: -1}}}
	if _, err := db.Collection("chat").Indexes().CreateOne(ctx, feed); err != nil {
		return fmt.Errorf("failed to create chat index: %w", err)
	}
	rooms := mongo.IndexModel{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updatedAtMs", Value: -1}}}
	if _, err := db.Collection("chatRooms").Indexes().CreateOne(ctx, rooms); err != nil {
		return fmt.Errorf("failed to create chatRooms index: %w", err)
	}
	return nil
}

func (r *mongoStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var raw bson.M
	err := r.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(collection, id)
		}
		r.log.Error("Failed to get document", "error", err, "collection", collection, "id", id)
		return nil, mapMongoError(err)
	}
	return fromBSON(raw), nil
}

func (r *mongoStore) Set(ctx context.Context, collection, id string, value map[string]interface{}, opts SetOptions) error {
	data, err := normalizeData(value)
	if err != nil {
		return err
	}
	delete(data, "_id")

	coll := r.db.Collection(collection)
	if opts.Merge {
		if len(data) == 0 {
			_, err = coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$setOnInsert": bson.M{"_id": id}}, options.UpdateOne().SetUpsert(true))
		} else {
			_, err = coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": data}, options.UpdateOne().SetUpsert(true))
		}
	} else {
		_, err = coll.ReplaceOne(ctx, bson.M{"_id": id}, data, options.Replace().SetUpsert(true))
	}
	if err != nil {
		r.log.Error("Failed to set document", "error", err, "collection", collection, "id", id)
		return mapMongoError(err)
	}
	return nil
}

func (r *mongoStore) Update(ctx context.Context, collection, id string, patch map[string]interface{}) error {
	data, err := normalizeData(patch)
	if err != nil {
		return err
	}
	delete(data, "_id")
	if len(data) == 0 {
		_, err := r.Get(ctx, collection, id)
		return err
	}

	res, err := r.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": data})
	if err != nil {
		r.log.Error("Failed to update document", "error", err, "collection", collection, "id", id)
		return mapMongoError(err)
	}
	if res.MatchedCount == 0 {
		return notFound(collection, id)
	}
	return nil
}

func (r *mongoStore) Remove(ctx context.Context, collection, id string) error {
	if _, err := r.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		r.log.Error("Failed to delete document", "error", err, "collection", collection, "id", id)
		return mapMongoError(err)
	}
	return nil
}

func (r *mongoStore) Query(ctx context.Context, q Query) ([]Document, error) {
	// Равенство по полю-массиву в MongoDB уже означает "содержит"
	filter := bson.M{}
	if q.EqualityField != "" {
		filter[q.EqualityField] = q.EqualityValue
	}

	opts := options.Find()
	direction := 1
	if q.Descending {
		direction = -1
	}
	if q.OrderByField != "" {
		opts.SetSort(bson.D{{Key: q.OrderByField, Value: direction}, {Key: "_id", Value: direction}})
	} else {
		opts.SetSort(bson.D{{Key: "_id", Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := r.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		r.log.Error("Failed to query documents", "error", err, "collection", q.Collection)
		return nil, mapMongoError(err)
	}
	defer cursor.Close(ctx)

	docs := []Document{}
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			r.log.Warn("Failed to decode document", "error", err)
			continue
		}
		docs = append(docs, *fromBSON(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, mapMongoError(err)
	}
	return docs, nil
}

// Subscribe слушает change stream коллекции; без replica set - опрашивает по таймеру
func (r *mongoStore) Subscribe(ctx context.Context, q Query, onData func([]Document), onError func(error)) (Unsubscribe, error) {
	lq := startLiveQuery(ctx, q, r.Query, onData, onError)

	stream, err := r.db.Collection(q.Collection).Watch(lq.ctx, mongo.Pipeline{})
	if err != nil {
		r.log.Warn("Change streams unavailable, falling back to polling", "error", err, "collection", q.Collection)
		go r.poll(lq)
		return lq.stop, nil
	}

	go func() {
		defer stream.Close(context.Background())
		for stream.Next(lq.ctx) {
			lq.poke()
		}
		if err := stream.Err(); err != nil && lq.ctx.Err() == nil {
			r.log.Warn("Change stream closed, falling back to polling", "error", err, "collection", q.Collection)
			r.poll(lq)
		}
	}()

	return lq.stop, nil
}

func (r *mongoStore) poll(lq *liveQuery) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lq.ctx.Done():
			return
		case <-ticker.C:
			lq.poke()
		}
	}
}

// Claim: $setOnInsert с upsert атомарен; при гонке двух upsert проигравший получает duplicate key
func (r *mongoStore) Claim(ctx context.Context, collection, id, owner string) (string, error) {
	coll := r.db.Collection(collection)
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var raw bson.M
	err := coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$setOnInsert": bson.M{ClaimOwnerField: owner}},
		opts,
	).Decode(&raw)
	if mongo.IsDuplicateKeyError(err) {
		err = coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	}
	if err != nil {
		r.log.Error("Failed to claim document", "error", err, "collection", collection, "id", id)
		return "", mapMongoError(err)
	}
	return claimOwner(fromBSON(raw).Data), nil
}

// SetMissing: вставка через $setOnInsert, затем каждое поле дописывается условным $set,
// который срабатывает только пока поле отсутствует или пустое
func (r *mongoStore) SetMissing(ctx context.Context, collection, id string, defaults map[string]interface{}) (bool, error) {
	data, err := normalizeData(defaults)
	if err != nil {
		return false, err
	}
	delete(data, "_id")

	coll := r.db.Collection(collection)
	insert := bson.M{"_id": id}
	if len(data) > 0 {
		insert = data
	}
	res, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$setOnInsert": insert}, options.UpdateOne().SetUpsert(true))
	switch {
	case mongo.IsDuplicateKeyError(err):
		// документ вставил параллельный upsert
	case err != nil:
		r.log.Error("Failed to fill document", "error", err, "collection", collection, "id", id)
		return false, mapMongoError(err)
	case res.UpsertedCount == 1:
		return true, nil
	}

	for field, value := range data {
		if isEmptyValue(value) {
			continue
		}
		filter := bson.M{
			"_id": id,
			"$or": bson.A{
				bson.M{field: bson.M{"$exists": false}},
				bson.M{field: nil},
				bson.M{field: ""},
				bson.M{field: bson.M{"$size": 0}},
				bson.M{field: bson.M{"$eq": bson.M{}}},
			},
		}
		if _, err := coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{field: value}}); err != nil {
			r.log.Error("Failed to fill document field", "error", err, "collection", collection, "id", id, "field", field)
			return false, mapMongoError(err)
		}
	}
	return false, nil
}

func (r *mongoStore) GenerateID(collection string) string {
	return uuid.Must(uuid.NewV7()).String()
}

// Close не отключает клиента: подключение принадлежит вызывающему
func (r *mongoStore) Close() error {
	return nil
}

func fromBSON(raw bson.M) *Document {
	id := fmt.Sprint(raw["_id"])
	data := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		data[k] = plainValue(v)
	}
	return &Document{ID: id, Data: data}
}

// plainValue переводит вложенные bson-типы в обычные map/slice с числами float64
func plainValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = plainValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = plainValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = plainValue(item)
		}
		return out
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	}
	return v
}

func mapMongoError(err error) error {
	if err == nil {
		return nil
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		switch {
		case se.HasErrorCode(13):
			return fmt.Errorf("%v: %w", err, apperrors.ErrPermission)
		case se.HasErrorCode(292):
			return fmt.Errorf("%v: %w", err, apperrors.ErrIndexMissing)
		}
	}
	return fmt.Errorf("%v: %w", err, apperrors.ErrStoreUnavailable)
}
