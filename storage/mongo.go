package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldscan/analysis"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// analysisDoc is one persisted session result. The result stays the raw JSON
// the context produced so a reload round-trips byte for byte.
type analysisDoc struct {
	Key       string    `bson:"_id"`
	Result    string    `bson:"result"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoStore keeps results in the "analyses" collection, one document per key.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore prepares the collection. With retention > 0 a TTL index drops
// documents not written for that long.
func NewMongoStore(ctx context.Context, db *mongo.Database, retention time.Duration) (*MongoStore, error) {
	coll := db.Collection("analyses")
	if retention > 0 {
		if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "updatedAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention / time.Second)),
		}); err != nil {
			return nil, fmt.Errorf("create ttl index: %w", err)
		}
	}
	return &MongoStore{coll: coll}, nil
}

func (s *MongoStore) Load(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc analysisDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, analysis.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", key, err)
	}
	return []byte(doc.Result), nil
}

// Save replaces the whole document; single-document writes are atomic in Mongo.
func (s *MongoStore) Save(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc := analysisDoc{Key: key, Result: string(data), UpdatedAt: time.Now().UTC()}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}
