package docstore

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore maps collections one-to-one onto MongoDB collections and uses
// ObjectIDs as document ids.
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) Get(ctx context.Context, collection string, id string) (*Document, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var raw bson.M
	err = s.db.Collection(collection).FindOne(ctx, bson.M{"_id": objectID}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return bsonToDocument(raw)
}

func (s *MongoStore) QueryByField(ctx context.Context, collection string, field string, value any) ([]Document, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{field: value}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := make([]Document, 0)
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		doc, err := bsonToDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, cursor.Err()
}

func (s *MongoStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	normalized, err := normalizeFields(fields)
	if err != nil {
		return "", err
	}
	objectID := primitive.NewObjectID()
	normalized["_id"] = objectID
	if _, err := s.db.Collection(collection).InsertOne(ctx, normalized); err != nil {
		return "", translateMongoError(collection, err)
	}
	return objectID.Hex(), nil
}

func (s *MongoStore) Update(ctx context.Context, collection string, id string, fields map[string]any) error {
	updated, err := s.CompareAndUpdate(ctx, collection, id, nil, fields)
	if err != nil {
		return err
	}
	if !updated {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) CompareAndUpdate(
	ctx context.Context,
	collection string,
	id string,
	expect map[string]any,
	fields map[string]any,
) (bool, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	patch, err := normalizeFields(fields)
	if err != nil {
		return false, err
	}
	filter := bson.M{"_id": objectID}
	for key, value := range expect {
		filter[key] = value
	}
	result, err := s.db.Collection(collection).UpdateOne(ctx, filter, bson.M{"$set": patch})
	if err != nil {
		return false, translateMongoError(collection, err)
	}
	return result.MatchedCount > 0, nil
}

func (s *MongoStore) Delete(ctx context.Context, collection string, id string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	_, err = s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": objectID})
	return err
}

func (s *MongoStore) EnsureUnique(ctx context.Context, collection string, field string) error {
	model := mongo.IndexModel{
		Keys: bson.D{{Key: field, Value: 1}},
		Options: options.Index().
			SetName(mongoIndexName(field)).
			SetUnique(true).
			SetPartialFilterExpression(bson.M{field: bson.M{"$gt": ""}}),
	}
	_, err := s.db.Collection(collection).Indexes().CreateOne(ctx, model)
	return err
}

func mongoIndexName(field string) string {
	return field + "_unique"
}

func translateMongoError(collection string, err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	field := ""
	message := err.Error()
	if start := strings.Index(message, "index: "); start >= 0 {
		name := strings.Fields(message[start+len("index: "):])
		if len(name) > 0 {
			field = strings.TrimSuffix(name[0], "_unique")
		}
	}
	return &DuplicateError{Collection: collection, Field: field}
}

func bsonToDocument(raw bson.M) (*Document, error) {
	id := ""
	if objectID, ok := raw["_id"].(primitive.ObjectID); ok {
		id = objectID.Hex()
	}
	delete(raw, "_id")
	fields, err := normalizeFields(raw)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Fields: fields}, nil
}
