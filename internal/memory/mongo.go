package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const mongoSelectionTimeout = 3 * time.Second

// mongoTurn keeps the legacy document layout {user_id, user_promt, AI}.
// "user_promt" is misspelled in existing collections and must stay that way.
type mongoTurn struct {
	ObjectID    primitive.ObjectID `bson:"_id,omitempty"`
	TurnID      string             `bson:"turn_id,omitempty"`
	UserID      string             `bson:"user_id"`
	Prompt      string             `bson:"user_promt"`
	Response    string             `bson:"AI"`
	PIIRedacted bool               `bson:"pii_redacted,omitempty"`
	CreatedAt   time.Time          `bson:"created_at,omitempty"`
}

func (d mongoTurn) turn() Turn {
	t := Turn{
		ID:          d.TurnID,
		UserID:      d.UserID,
		Prompt:      d.Prompt,
		Response:    d.Response,
		PIIRedacted: d.PIIRedacted,
		CreatedAt:   d.CreatedAt,
	}
	// Legacy documents only carry the ObjectID.
	if t.ID == "" && !d.ObjectID.IsZero() {
		t.ID = d.ObjectID.Hex()
	}
	if t.CreatedAt.IsZero() && !d.ObjectID.IsZero() {
		t.CreatedAt = d.ObjectID.Timestamp().UTC()
	}
	return t
}

// MongoStore persists turns as documents in one collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(mongoSelectionTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "user_promt", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create mongodb index: %w", err)
	}
	return &MongoStore{client: client, collection: coll}, nil
}

func (s *MongoStore) SaveTurn(ctx context.Context, turn Turn) error {
	turn = prepare(turn, uuid.NewString)
	_, err := s.collection.InsertOne(ctx, mongoTurn{
		TurnID:      turn.ID,
		UserID:      turn.UserID,
		Prompt:      turn.Prompt,
		Response:    turn.Response,
		PIIRedacted: turn.PIIRedacted,
		CreatedAt:   turn.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// RecentTurns orders by _id, which follows insertion order for both new and
// legacy documents.
func (s *MongoStore) RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	var docs []mongoTurn
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode recent turns: %w", err)
	}

	items := make([]Turn, len(docs))
	for i, d := range docs {
		items[len(docs)-1-i] = d.turn()
	}
	return items, nil
}

func (s *MongoStore) CountTurns(ctx context.Context, userID string) (int, error) {
	n, err := s.collection.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return int(n), nil
}

func (s *MongoStore) CountByPrompt(ctx context.Context, userID, prompt string) (int, error) {
	n, err := s.collection.CountDocuments(ctx, bson.M{"user_id": userID, "user_promt": prompt})
	if err != nil {
		return 0, fmt.Errorf("count turns by prompt: %w", err)
	}
	return int(n), nil
}

func (s *MongoStore) DeleteByPrompt(ctx context.Context, userID, prompt string) (int, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{"user_id": userID, "user_promt": prompt})
	if err != nil {
		return 0, fmt.Errorf("delete turns by prompt: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) HasIdentical(ctx context.Context, userID, prompt, response string) (bool, error) {
	n, err := s.collection.CountDocuments(ctx,
		bson.M{"user_id": userID, "user_promt": prompt, "AI": response},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("check identical turn: %w", err)
	}
	return n > 0, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
