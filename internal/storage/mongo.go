package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

type document struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps one document per key in the guest_carts collection.
type MongoStore struct {
	collection *mongo.Collection
	ttl        time.Duration
}

func NewMongoStore(db *mongo.Database, ttl time.Duration) *MongoStore {
	return &MongoStore{
		collection: db.Collection("guest_carts"),
		ttl:        ttl,
	}
}

func (m *MongoStore) Get(ctx context.Context, key string) (string, error) {
	var doc document
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return doc.Value, nil
}

func (m *MongoStore) Set(ctx context.Context, key, value string) error {
	update := bson.M{
		"$set": bson.M{
			"value":      value,
			"updated_at": time.Now(),
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, bson.M{"_id": key}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert key: %w", err)
	}
	return nil
}

// Update is an optimistic read-modify-write: the write only applies while
// the document still carries the version that was read.
func (m *MongoStore) Update(ctx context.Context, key string, fn func(current string, found bool) (string, error)) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var doc document
		found := true
		err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			found = false
		} else if err != nil {
			return fmt.Errorf("failed to get key: %w", err)
		}

		next, err := fn(doc.Value, found)
		if errors.Is(err, ErrSkipWrite) {
			return nil
		}
		if err != nil {
			return err
		}

		if !found {
			_, err := m.collection.InsertOne(ctx, document{
				Key:       key,
				Value:     next,
				Version:   1,
				UpdatedAt: time.Now(),
			})
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to insert key: %w", err)
			}
			return nil
		}

		filter := bson.M{"_id": key, "version": doc.Version}
		if doc.Version == 0 {
			// written before versioning
			filter["version"] = bson.M{"$exists": false}
		}
		update := bson.M{
			"$set": bson.M{"value": next, "updated_at": time.Now()},
			"$inc": bson.M{"version": 1},
		}
		res, err := m.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return fmt.Errorf("failed to update key: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}
	return fmt.Errorf("mongo update %s: %w", key, ErrConflict)
}

func (m *MongoStore) Delete(ctx context.Context, key string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// CreateIndexes installs the TTL index that reaps abandoned guest carts.
func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	if m.ttl <= 0 {
		return nil
	}
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "updated_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(m.ttl.Seconds())),
	}

	if _, err := m.collection.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
