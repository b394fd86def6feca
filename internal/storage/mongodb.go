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

const mongoDocumentsCollection = "documents"

// mongoBackend stores each collection as {_id: name, body: <json>} in the
// "documents" collection.
type mongoBackend struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type mongoDocument struct {
	Name      string    `bson:"_id"`
	Body      string    `bson:"body"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func newMongoBackend(ctx context.Context, uri, database string) (*mongoBackend, error) {
	if uri == "" {
		return nil, errors.New("MONGODB_URI is required for mongodb storage")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &mongoBackend{
		client: client,
		coll:   client.Database(database).Collection(mongoDocumentsCollection),
	}, nil
}

func (m *mongoBackend) load(ctx context.Context, name string) ([]byte, bool, error) {
	var doc mongoDocument
	err := m.coll.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(doc.Body), true, nil
}

func (m *mongoBackend) save(ctx context.Context, name string, data []byte) error {
	_, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$set": bson.M{"body": string(data), "updated_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *mongoBackend) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
